package lifecycle

import (
	"encoding/json"
	"testing"
)

func decodeJSON(t *testing.T, body string) ReplaceRequest {
	t.Helper()
	var req ReplaceRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal %s: %v", body, err)
	}
	return req
}

func TestDecodeUpdate_Inference(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"status only", `{"status":"APPROVED"}`, "status", false},
		{"name and source work", `{"name":"Asuka","sourceWork":"Evangelion"}`, "full", false},
		{"full with status", `{"name":"Asuka","sourceWork":"Evangelion","status":"APPROVED"}`, "full", false},
		{"status plus partial content", `{"status":"APPROVED","name":"Asuka"}`, "", true},
		{"name only", `{"name":"Asuka"}`, "", true},
		{"empty body", `{}`, "", true},
		{"explicit status", `{"kind":"status","status":"REJECTED"}`, "status", false},
		{"explicit status with content", `{"kind":"status","status":"REJECTED","name":"x"}`, "", true},
		{"explicit status without status", `{"kind":"status"}`, "", true},
		{"explicit full", `{"kind":"full","name":"Asuka","sourceWork":"Evangelion"}`, "full", false},
		{"explicit full missing source work", `{"kind":"full","name":"Asuka"}`, "", true},
		{"unknown kind", `{"kind":"merge","status":"APPROVED"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := DecodeUpdate(decodeJSON(t, tt.body))
			if tt.wantErr {
				requireKind(t, err, KindValidation)
				return
			}
			if err != nil {
				t.Fatalf("DecodeUpdate error: %v", err)
			}
			switch update.(type) {
			case StatusOnlyUpdate:
				if tt.want != "status" {
					t.Errorf("got StatusOnlyUpdate, want %s", tt.want)
				}
			case FullReplace:
				if tt.want != "full" {
					t.Errorf("got FullReplace, want %s", tt.want)
				}
			default:
				t.Errorf("unexpected update type %T", update)
			}
		})
	}
}

func TestDecodeUpdate_CollectionPresence(t *testing.T) {
	update, err := DecodeUpdate(decodeJSON(t, `{"name":"Asuka","sourceWork":"Evangelion","colors":[]}`))
	if err != nil {
		t.Fatalf("DecodeUpdate error: %v", err)
	}
	full := update.(FullReplace)
	if full.Colors == nil {
		t.Errorf("an empty colors array must count as present")
	}
	if full.Images != nil {
		t.Errorf("omitted images must stay nil")
	}
}

func TestIsRGBFunc(t *testing.T) {
	valid := []string{"rgb(0,0,0)", "rgb(255, 255, 255)", "rgb( 12 , 3 ,4 )"}
	invalid := []string{"", "rgb(256,0,0)", "rgba(0,0,0,1)", "rgb(0,0)", "#FFFFFF"}
	for _, v := range valid {
		if !IsRGBFunc(v) {
			t.Errorf("IsRGBFunc(%q) = false, want true", v)
		}
	}
	for _, v := range invalid {
		if IsRGBFunc(v) {
			t.Errorf("IsRGBFunc(%q) = true, want false", v)
		}
	}
}

func TestNormalizeMimeType(t *testing.T) {
	if got := NormalizeMimeType(" Image/JPG "); got != MimeJPEG {
		t.Errorf("NormalizeMimeType = %q, want %q", got, MimeJPEG)
	}
	if !DefaultLimits().IsAllowedMimeType("image/jpg") {
		t.Errorf("image/jpg should be allowed as an alias of image/jpeg")
	}
	if DefaultLimits().IsAllowedMimeType("image/gif") {
		t.Errorf("image/gif must not be allowed")
	}
}
