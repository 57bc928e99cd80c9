package scoring

// synonymGroups are activity keys treated as the same activity
var synonymGroups = [][]string{
	{"meeting", "sync", "standup", "stand up", "call", "one on one", "1on1", "ミーティング", "会議", "打ち合わせ", "面談"},
	{"review", "design review", "code review", "レビュー"},
	{"retro", "retrospective", "planning"},
	{"coding", "development", "debugging", "作業", "開発", "実装"},
	{"deploy", "deployment", "release"},
	{"study", "reading", "lecture", "class", "勉強", "読書"},
	{"lunch", "break", "coffee", "昼休み", "休憩", "昼食"},
	{"workout", "gym", "run", "walk", "運動", "散歩"},
	{"commute", "通勤"},
}

var groupOf = func() map[string]int {
	m := make(map[string]int)
	for i, g := range synonymGroups {
		for _, k := range g {
			m[k] = i
		}
	}
	return m
}()

func sameSynonymGroup(a, b string) bool {
	ga, okA := groupOf[a]
	gb, okB := groupOf[b]
	return okA && okB && ga == gb
}
