package tag

import "testing"

func TestTagLess(t *testing.T) {
	base := Tag{Tablespace: 1663, Database: 5, Relation: 100, Fork: Main, Block: 7}
	cases := []struct {
		name string
		a, b Tag
		want bool
	}{
		{"equal", base, base, false},
		{"tablespace", Tag{Tablespace: 1000}, Tag{Tablespace: 2000}, true},
		{"database tiebreak", Tag{Tablespace: 1, Database: 1}, Tag{Tablespace: 1, Database: 2}, true},
		{"block tiebreak", base, Tag{Tablespace: 1663, Database: 5, Relation: 100, Fork: Main, Block: 8}, true},
		{"fork before block", Tag{Fork: Main, Block: 999}, Tag{Fork: FSM, Block: 0}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Less(c.b); got != c.want {
				t.Errorf("%+v.Less(%+v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestRel(t *testing.T) {
	tg := Tag{Tablespace: 1663, Database: 5, Relation: 100, Fork: VM, Block: 7}
	rel := tg.Rel()
	want := RelTag{Tablespace: 1663, Database: 5, Relation: 100, Fork: VM}
	if rel != want {
		t.Errorf("Rel() = %+v, want %+v", rel, want)
	}
}

func TestForkFromName(t *testing.T) {
	cases := []struct {
		name    string
		want    Fork
		wantOK  bool
	}{
		{"", Main, true},
		{"fsm", FSM, true},
		{"vm", VM, true},
		{"init", Init, true},
		{"bogus", 0, false},
	}
	for _, c := range cases {
		got, ok := ForkFromName(c.name)
		if ok != c.wantOK || (ok && got != c.want) {
			t.Errorf("ForkFromName(%q) = (%v, %v), want (%v, %v)", c.name, got, ok, c.want, c.wantOK)
		}
	}
}
