package models

import (
	"fmt"
	"mime/multipart"
	"sort"

	"bytetrade.io/web3os/upload-gateway/pkg/utils"

	"github.com/thoas/go-funk"
)

// FormField is one text field of a submitted form.
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FormFile is one attachment of a file field. Header is nil when the field
// was submitted without a file.
type FormFile struct {
	Field  string                `json:"field"`
	Header *multipart.FileHeader `json:"-"`
}

// Attached reports whether the client actually chose a file for the field.
func (f FormFile) Attached() bool {
	return f.Header != nil && f.Header.Filename != ""
}

// FormSubmission is the request-scoped view of a multipart form, with fields
// and files in field-name order.
type FormSubmission struct {
	Fields []FormField `json:"fields"`
	Files  []FormFile  `json:"files"`
}

func NewFormSubmission(form *multipart.Form) *FormSubmission {
	s := &FormSubmission{}
	if form == nil {
		return s
	}

	for _, name := range sortedKeys(form.Value) {
		for _, v := range form.Value[name] {
			s.Fields = append(s.Fields, FormField{Name: name, Value: v})
		}
	}

	for _, name := range sortedKeys(form.File) {
		headers := form.File[name]
		if len(headers) == 0 {
			s.Files = append(s.Files, FormFile{Field: name})
			continue
		}
		for _, fh := range headers {
			s.Files = append(s.Files, FormFile{Field: name, Header: fh})
		}
	}

	return s
}

// StoredFile describes a file written to the upload directory.
type StoredFile struct {
	Field        string `json:"field"`
	OriginalName string `json:"original_name"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
}

func (f StoredFile) String() string {
	return fmt.Sprintf("%s:%s->%s(%d)", utils.QuoteForLog(f.Field), utils.QuoteForLog(f.OriginalName), f.Name, f.Size)
}

func sortedKeys(m interface{}) []string {
	keys, ok := funk.Keys(m).([]string)
	if !ok {
		return nil
	}
	sort.Strings(keys)
	return keys
}
