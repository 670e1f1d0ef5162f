package htmltext

import "testing"

func TestConvertKeepsVisibleText(t *testing.T) {
	input := `<html><head><title>ignored</title><style>p{color:red}</style></head>
<body><p>Patient: <b>Margaret Thompson</b></p><div>DOB&nbsp;03/15/1942</div>
<script>alert("x")</script><ul><li>Dementia</li><li>Hypertension</li></ul></body></html>`

	got := ConvertString(input)
	want := "Patient: Margaret Thompson\n\nDOB 03/15/1942\n\nDementia\n\nHypertension"
	if got != want {
		t.Fatalf("ConvertString() = %q, want %q", got, want)
	}
}

func TestConvertPlainTextPassesThrough(t *testing.T) {
	if got := ConvertString("  just   text  "); got != "just text" {
		t.Fatalf("ConvertString() = %q", got)
	}
}
