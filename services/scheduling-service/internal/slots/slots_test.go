package slots

import (
	"reflect"
	"testing"

	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
)

func tod(t *testing.T, s string) model.TimeOfDay {
	t.Helper()
	v, err := model.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%q): %v", s, err)
	}
	return v
}

func rng(t *testing.T, start, end string) model.TimeRange {
	return model.TimeRange{Start: tod(t, start), End: tod(t, end)}
}

func TestSplit_Basic(t *testing.T) {
	got := Split(tod(t, "09:00"), tod(t, "10:00"), 30)
	want := []model.TimeRange{rng(t, "09:00", "09:30"), rng(t, "09:30", "10:00")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSplit_DropsRemainder(t *testing.T) {
	cases := []struct {
		start, end string
		duration   int
		want       []model.TimeRange
	}{
		{"09:00", "10:10", 30, []model.TimeRange{rng(t, "09:00", "09:30"), rng(t, "09:30", "10:00")}},
		{"09:00", "10:00", 25, []model.TimeRange{rng(t, "09:00", "09:25"), rng(t, "09:25", "09:50")}},
		{"13:00", "13:59", 20, []model.TimeRange{rng(t, "13:00", "13:20"), rng(t, "13:20", "13:40")}},
	}
	for _, c := range cases {
		got := Split(tod(t, c.start), tod(t, c.end), c.duration)
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("Split(%s, %s, %d): expected %v, got %v", c.start, c.end, c.duration, c.want, got)
		}
	}
}

func TestSplit_Empty(t *testing.T) {
	cases := []struct {
		name       string
		start, end string
		duration   int
	}{
		{"shorter than duration", "09:00", "09:20", 30},
		{"start after end", "10:00", "09:00", 15},
		{"equal bounds", "09:00", "09:00", 15},
		{"zero duration", "09:00", "10:00", 0},
		{"negative duration", "09:00", "10:00", -5},
	}
	for _, c := range cases {
		if got := Split(tod(t, c.start), tod(t, c.end), c.duration); len(got) != 0 {
			t.Fatalf("%s: expected no slots, got %v", c.name, got)
		}
	}
}

func TestSplit_Properties(t *testing.T) {
	for _, d := range []int{1, 7, 15, 30, 45, 60, 90} {
		start, end := tod(t, "08:10"), tod(t, "17:55")
		got := Split(start, end, d)
		want := int(end-start) / d
		if len(got) != want {
			t.Fatalf("duration %d: expected %d slots, got %d", d, want, len(got))
		}
		for i, s := range got {
			if s.Minutes() != d {
				t.Fatalf("duration %d: slot %d has length %d", d, i, s.Minutes())
			}
			if s.Start < start || s.End > end {
				t.Fatalf("duration %d: slot %v outside range", d, s)
			}
			if i > 0 && got[i-1].End != s.Start {
				t.Fatalf("duration %d: slots %v and %v not contiguous", d, got[i-1], s)
			}
		}
		if len(got) > 0 && got[0].Start != start {
			t.Fatalf("duration %d: first slot starts at %s", d, got[0].Start)
		}
	}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		a, b model.TimeRange
		want bool
	}{
		{rng(t, "09:00", "10:00"), rng(t, "09:30", "10:30"), true},
		{rng(t, "09:00", "10:00"), rng(t, "10:00", "11:00"), false},
		{rng(t, "10:00", "11:00"), rng(t, "09:00", "10:00"), false},
		{rng(t, "09:00", "12:00"), rng(t, "10:00", "11:00"), true},
		{rng(t, "09:00", "10:00"), rng(t, "11:00", "12:00"), false},
	}
	for _, c := range cases {
		if got := Overlaps(c.a, c.b); got != c.want {
			t.Fatalf("Overlaps(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
		if got := Overlaps(c.b, c.a); got != c.want {
			t.Fatalf("Overlaps is not symmetric for %v, %v", c.a, c.b)
		}
	}
}

func TestFirstOverlap(t *testing.T) {
	ranges := []model.TimeRange{
		rng(t, "13:00", "14:00"),
		rng(t, "09:00", "10:00"),
		rng(t, "10:00", "11:00"),
		rng(t, "09:30", "09:45"),
	}
	i, j, ok := FirstOverlap(ranges)
	if !ok || i != 1 || j != 3 {
		t.Fatalf("expected overlap (1,3), got (%d,%d,%v)", i, j, ok)
	}
	if _, _, ok := FirstOverlap(ranges[:3]); ok {
		t.Fatal("expected no overlap for touching ranges")
	}
	if _, _, ok := FirstOverlap(nil); ok {
		t.Fatal("expected no overlap for empty input")
	}
}

func TestFirstOverlap_LongRangeCoversLater(t *testing.T) {
	ranges := []model.TimeRange{
		rng(t, "08:00", "12:00"),
		rng(t, "09:00", "09:30"),
		rng(t, "11:00", "11:30"),
	}
	if _, _, ok := FirstOverlap(ranges); !ok {
		t.Fatal("expected overlap")
	}
}

func TestDiff(t *testing.T) {
	a := model.Interval{ID: "a", Start: tod(t, "09:00"), End: tod(t, "09:30"), Available: true}
	b := model.Interval{ID: "b", Start: tod(t, "09:30"), End: tod(t, "10:00"), Available: false}
	c := rng(t, "10:00", "10:30")

	insert, remove := Diff([]model.Interval{a, b}, []model.TimeRange{b.Range(), c})
	if !reflect.DeepEqual(insert, []model.TimeRange{c}) {
		t.Fatalf("expected insert [%v], got %v", c, insert)
	}
	if len(remove) != 1 || remove[0].ID != "a" {
		t.Fatalf("expected remove [a], got %v", remove)
	}
}

func TestDiff_IdenticalIsNoop(t *testing.T) {
	a := model.Interval{ID: "a", Start: tod(t, "09:00"), End: tod(t, "09:30")}
	insert, remove := Diff([]model.Interval{a}, []model.TimeRange{a.Range(), a.Range()})
	if len(insert) != 0 || len(remove) != 0 {
		t.Fatalf("expected no changes, got insert=%v remove=%v", insert, remove)
	}
}

func TestDiff_KeyIncludesEnd(t *testing.T) {
	a := model.Interval{ID: "a", Start: tod(t, "09:00"), End: tod(t, "09:30")}
	insert, remove := Diff([]model.Interval{a}, []model.TimeRange{rng(t, "09:00", "10:00")})
	if len(insert) != 1 || len(remove) != 1 {
		t.Fatalf("expected replace of resized interval, got insert=%v remove=%v", insert, remove)
	}
}
