package classifier

// activityVocabulary lists the activity nouns recognized as activity keys.
// Keep in step with the synonym groups in the scoring package.
var activityVocabulary = []string{
	// meetings
	"meeting", "sync", "standup", "stand up", "call", "one on one", "1on1", "interview",
	"ミーティング", "会議", "打ち合わせ", "面談",
	// reviews
	"review", "design review", "code review", "レビュー",
	// planning
	"planning", "retro", "retrospective", "presentation",
	// focus work
	"coding", "development", "debugging", "writing", "deploy", "deployment", "release",
	"作業", "開発", "実装",
	// learning
	"study", "reading", "lecture", "class", "勉強", "読書",
	// breaks
	"lunch", "break", "coffee", "昼休み", "休憩", "昼食",
	// exercise
	"workout", "gym", "run", "walk", "運動", "散歩",
	// travel
	"commute", "通勤",
}
