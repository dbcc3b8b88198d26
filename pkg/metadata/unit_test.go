package metadata

import "testing"

func TestParseArtifactKey(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"osgi.bundle/org.example.core/1.0.0", false},
		{"osgi.bundle/org.example.core", true},
		{"//1.0.0", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			key, err := ParseArtifactKey(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseArtifactKey(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && key.String() != tt.input {
				t.Errorf("round trip = %q, expected %q", key.String(), tt.input)
			}
		})
	}
}

func TestUnitClone(t *testing.T) {
	u := &Unit{
		ID:           "a",
		Version:      "1.0",
		Instructions: map[string]string{"install": "mkdir(path:x)"},
		Properties:   map[string]string{"k": "v"},
		Artifacts:    []ArtifactKey{{Classifier: "binary", ID: "a", Version: "1.0"}},
	}

	c := u.Clone()
	c.Instructions["install"] = "changed"
	c.Properties["k"] = "changed"
	c.Artifacts[0].ID = "changed"

	if u.Instructions["install"] != "mkdir(path:x)" || u.Properties["k"] != "v" || u.Artifacts[0].ID != "a" {
		t.Error("clone should not share state with the original")
	}
}

func TestNilUnit(t *testing.T) {
	var u *Unit
	if u.Key() != "" || u.Instruction("install") != "" || u.String() != "<none>" {
		t.Error("nil unit accessors should return zero values")
	}
}
