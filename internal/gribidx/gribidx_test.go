package gribidx

import "testing"

func TestParseRejectsBadFieldCount(t *testing.T) {
	_, err := Parse([]byte("1:0:d=2024010100:TMP:850 mb:3 hour fcst"))
	if err == nil {
		t.Fatal("expected error for 6-field line")
	}
}

func TestParseRejectsNonIntegerOffset(t *testing.T) {
	_, err := Parse([]byte("1:abc:d=2024010100:TMP:850 mb:3 hour fcst:"))
	if err == nil {
		t.Fatal("expected error for non-integer offset")
	}
}

func TestParseOK(t *testing.T) {
	data := "1:0:d=2024010100:TMP:850 mb:3 hour fcst:\n" +
		"2:1500:d=2024010100:UGRD:850 mb:3 hour fcst:\n" +
		"3:3200:d=2024010100:VGRD:850 mb:3 hour fcst:\n"
	recs, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[1].Var != "UGRD" || recs[1].Offset != 1500 {
		t.Fatalf("unexpected record: %+v", recs[1])
	}
}

func TestPlanChunksDisjointOrderedAndOpenEndedLast(t *testing.T) {
	data := "1:0:d=1:TMP:850 mb:fcst:\n" +
		"2:1500:d=1:UGRD:850 mb:fcst:\n" +
		"3:3200:d=1:VGRD:700 mb:fcst:\n" + // not selected (700mb not in list)
		"4:4800:d=1:TMP:500 mb:fcst:\n" +
		"5:6000:d=1:UGRD:500 mb:fcst:\n"
	recs, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	vl := VariableList{
		{Levels: []string{"850 mb", "500 mb"}, Vars: []string{"TMP", "UGRD"}},
	}

	chunks := PlanChunks(recs, vl)
	// Selected records: ordinal 1 (TMP 850), 2 (UGRD 850), 4 (TMP 500), 5 (UGRD 500)
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4: %+v", len(chunks), chunks)
	}

	// Ascending order, disjoint, and each chunk's end is next record's offset - 1
	wantStarts := []int64{0, 1500, 4800, 6000}
	for i, c := range chunks {
		if c.Start != wantStarts[i] {
			t.Fatalf("chunk %d start = %v, want %v", i, c.Start, wantStarts[i])
		}
	}
	if chunks[0].End != 1499 || chunks[0].OpenEnded {
		t.Fatalf("chunk 0 = %+v, want end=1499", chunks[0])
	}
	if chunks[1].End != 3199 || chunks[1].OpenEnded {
		t.Fatalf("chunk 1 = %+v, want end=3199", chunks[1])
	}
	if chunks[2].End != 5999 || chunks[2].OpenEnded {
		t.Fatalf("chunk 2 = %+v, want end=5999", chunks[2])
	}
	if !chunks[3].OpenEnded {
		t.Fatalf("last selected chunk should be open-ended: %+v", chunks[3])
	}
}

func TestPlanChunksNoneSelected(t *testing.T) {
	data := "1:0:d=1:TMP:850 mb:fcst:\n"
	recs, _ := Parse([]byte(data))
	vl := VariableList{{Levels: []string{"500 mb"}, Vars: []string{"TMP"}}}
	chunks := PlanChunks(recs, vl)
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %+v", chunks)
	}
}
