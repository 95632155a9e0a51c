package models

import (
	"mime/multipart"
	"reflect"
	"testing"
)

func TestNewFormSubmission(t *testing.T) {
	form := &multipart.Form{
		Value: map[string][]string{
			"zeta":  {"last"},
			"alpha": {"1", "2"},
			"empty": {""},
		},
		File: map[string][]*multipart.FileHeader{
			"doc":    {{Filename: "report.PDF"}},
			"avatar": {{Filename: ""}},
			"none":   {},
		},
	}

	s := NewFormSubmission(form)

	wantFields := []FormField{
		{Name: "alpha", Value: "1"},
		{Name: "alpha", Value: "2"},
		{Name: "empty", Value: ""},
		{Name: "zeta", Value: "last"},
	}
	if !reflect.DeepEqual(s.Fields, wantFields) {
		t.Errorf("Fields = %+v, want %+v", s.Fields, wantFields)
	}

	var fields []string
	var attached []bool
	for _, f := range s.Files {
		fields = append(fields, f.Field)
		attached = append(attached, f.Attached())
	}
	if want := []string{"avatar", "doc", "none"}; !reflect.DeepEqual(fields, want) {
		t.Errorf("file fields = %v, want %v", fields, want)
	}
	if want := []bool{false, true, false}; !reflect.DeepEqual(attached, want) {
		t.Errorf("attached = %v, want %v", attached, want)
	}
}

func TestNewFormSubmissionEmpty(t *testing.T) {
	for _, form := range []*multipart.Form{nil, {}} {
		s := NewFormSubmission(form)
		if len(s.Fields) != 0 || len(s.Files) != 0 {
			t.Errorf("NewFormSubmission(%v) = %+v, want empty", form, s)
		}
	}
}
