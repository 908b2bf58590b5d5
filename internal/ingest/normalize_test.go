package ingest

import "testing"

func TestHeaderAliasingRoundTrip(t *testing.T) {
	upper := MapHeaders([]string{"Candidate Name", "Email", "CREDITS ASSIGNED"})
	short := MapHeaders([]string{"Candidate Name", "Email", "Credits"})

	raw := RawRow{
		"Candidate Name":  "Asha Rao",
		"Email":           "asha@x.com",
		"CREDITS ASSIGNED": "7",
	}
	rawShort := RawRow{
		"Candidate Name": "Asha Rao",
		"Email":          "asha@x.com",
		"Credits":        "7",
	}

	a := upper.Normalize(raw)
	b := short.Normalize(rawShort)

	if a.CreditsAssigned == nil || b.CreditsAssigned == nil {
		t.Fatalf("credits must resolve under both headers: %+v %+v", a, b)
	}
	if *a.CreditsAssigned != *b.CreditsAssigned || *a.CreditsAssigned != 7 {
		t.Fatalf("alias mismatch: %d vs %d", *a.CreditsAssigned, *b.CreditsAssigned)
	}
	if a.Name != b.Name || a.Email != b.Email {
		t.Fatalf("rows should normalize identically: %+v vs %+v", a, b)
	}
}

func TestNormalizeDefaultsAndClamping(t *testing.T) {
	m := MapHeaders([]string{"Name", "Email", "Credits", "Phone"})

	row := m.Normalize(RawRow{
		"Name":    "Ravi",
		"Email":   "ravi@x.com",
		"Credits": "not-a-number",
		"Phone":   "999",
	})

	if row.Course != DefaultCourse {
		t.Fatalf("missing course should default, got %q", row.Course)
	}
	if row.CreditsAssigned == nil || *row.CreditsAssigned != 0 {
		t.Fatalf("unparseable credits should clamp to 0, got %v", row.CreditsAssigned)
	}
	if !row.Provisionable() {
		t.Fatalf("row with valid email must be provisionable")
	}

	neg := m.Normalize(RawRow{"Name": "N", "Email": "n@x.com", "Credits": "-3"})
	if neg.CreditsAssigned == nil || *neg.CreditsAssigned != 0 {
		t.Fatalf("negative credits should clamp to 0, got %v", neg.CreditsAssigned)
	}
}

func TestNormalizeMissingEmailRetainedButIncomplete(t *testing.T) {
	m := MapHeaders([]string{"Candidate Name", "Email"})

	row := m.Normalize(RawRow{"Candidate Name": "No Mail"})
	if !row.Incomplete {
		t.Fatalf("missing email must mark row incomplete")
	}
	if row.Provisionable() {
		t.Fatalf("incomplete row must not be provisionable")
	}
	if row.Name != "No Mail" {
		t.Fatalf("incomplete row must still be retained for display, got %+v", row)
	}

	bad := m.Normalize(RawRow{"Candidate Name": "Bad Mail", "Email": "not-an-email"})
	if bad.Provisionable() {
		t.Fatalf("malformed email must not be provisionable")
	}
}

func TestNormalizeSheetResolvesHeadersOnce(t *testing.T) {
	sheet := &Sheet{
		Headers: []string{"Student Name", "Email ID", "Branch"},
		Rows: []RawRow{
			{"Student Name": "A", "Email ID": "a@x.com", "Branch": "CSE"},
			{"Student Name": "B", "Email ID": "b@x.com"},
		},
	}

	rows := NormalizeSheet(sheet)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows got %d", len(rows))
	}
	if rows[0].Course != "CSE" {
		t.Fatalf("branch alias should map to course, got %q", rows[0].Course)
	}
	if rows[1].Course != DefaultCourse {
		t.Fatalf("empty course should default, got %q", rows[1].Course)
	}
	if rows[0].Name != "A" || rows[1].Email != "b@x.com" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
