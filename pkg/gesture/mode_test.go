package gesture

import "testing"

func TestModeTables(t *testing.T) {
	for _, m := range Modes() {
		if modeNames[m] == "" {
			t.Errorf("mode %d has no name", int(m))
		}
	}
	if len(Modes()) != 7 {
		t.Errorf("expected 7 modes, got %d", len(Modes()))
	}
}

func TestMode_Sign(t *testing.T) {
	want := map[Mode]string{
		ZoomIn:  "kinect zoomin",
		ZoomOut: "kinect zoomout",
		Up:      "kinect up",
		Down:    "kinect down",
		Left:    "kinect left",
		Right:   "kinect right",
		Stop:    "kinect stop",
	}
	for m, sign := range want {
		if got := m.Sign(); got != sign {
			t.Errorf("%v.Sign() = %q, want %q", m, got, sign)
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"zoomin", ZoomIn, false},
		{"ZOOM_IN", ZoomIn, false},
		{"zoom_out", ZoomOut, false},
		{" Left ", Left, false},
		{"STOP", Stop, false},
		{"sideways", Stop, true},
		{"", Stop, true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMode_Families(t *testing.T) {
	for _, m := range Modes() {
		distance, directional := m.IsDistance(), m.IsDirectional()
		if distance && directional {
			t.Errorf("%v is in both families", m)
		}
		if m == Stop && (distance || directional) {
			t.Error("stop must not sample")
		}
		if m != Stop && !distance && !directional {
			t.Errorf("%v belongs to no family", m)
		}
	}
}

func TestMode_TextRoundTrip(t *testing.T) {
	var m Mode
	if err := m.UnmarshalText([]byte("right")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if m != Right {
		t.Errorf("got %v, want right", m)
	}
	if _, err := Mode(42).MarshalText(); err == nil {
		t.Error("expected error for invalid mode")
	}
}
