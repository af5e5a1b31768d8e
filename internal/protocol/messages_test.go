package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeStroke(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    StrokeRecord
		wantErr bool
	}{
		{"valid", `{"x1":0,"y1":0,"x2":10,"y2":0}`, StrokeRecord{0, 0, 10, 0}, false},
		{"out of bounds kept", `{"x1":-50,"y1":9000,"x2":1e6,"y2":-1}`, StrokeRecord{-50, 9000, 1e6, -1}, false},
		{"extra fields ignored", `{"x1":1,"y1":2,"x2":3,"y2":4,"color":"red"}`, StrokeRecord{1, 2, 3, 4}, false},
		{"missing field", `{"x1":1,"y1":2,"x2":3}`, StrokeRecord{}, true},
		{"string field", `{"x1":"1","y1":2,"x2":3,"y2":4}`, StrokeRecord{}, true},
		{"null field", `{"x1":null,"y1":2,"x2":3,"y2":4}`, StrokeRecord{}, true},
		{"not an object", `[1,2,3,4]`, StrokeRecord{}, true},
		{"empty", ``, StrokeRecord{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeStroke(json.RawMessage(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("DecodeStroke(%s) error = %v, want ErrMalformed", tt.data, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeStroke(%s) unexpected error: %v", tt.data, err)
			}
			if got != tt.want {
				t.Errorf("DecodeStroke(%s) = %+v, want %+v", tt.data, got, tt.want)
			}
		})
	}
}

func TestDecodeCursorIgnoresSenderIdentity(t *testing.T) {
	got, err := DecodeCursor(json.RawMessage(`{"x":5,"y":6,"participantId":"spoofed","color":"#fff"}`))
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	want := CursorPosition{X: 5, Y: 6}
	if got != want {
		t.Errorf("DecodeCursor = %+v, want %+v", got, want)
	}

	if _, err := DecodeCursor(json.RawMessage(`{"x":5}`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodeCursor missing y: error = %v, want ErrMalformed", err)
	}
}

func TestNewMessageNilPayload(t *testing.T) {
	msg, err := NewMessage(EventReset, nil)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if msg.Event != EventReset || string(msg.Data) != `{}` {
		t.Errorf("NewMessage(reset, nil) = %s %s", msg.Event, msg.Data)
	}
}

func TestBrushConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		brush   BrushConfig
		wantErr bool
	}{
		{"default", DefaultBrush(), false},
		{"zero radius", BrushConfig{Radius: 0, Opacity: 1, SubdivisionFactor: 0.3}, true},
		{"zero factor", BrushConfig{Radius: 20, Opacity: 1, SubdivisionFactor: 0}, true},
		{"opacity above one", BrushConfig{Radius: 20, Opacity: 1.5, SubdivisionFactor: 0.3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.brush.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if got := DefaultBrush().Step(); got != 6 {
		t.Errorf("DefaultBrush().Step() = %v, want 6", got)
	}
}
