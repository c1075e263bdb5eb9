package backend

import (
	"bytes"
	"io"
	"mime/multipart"
)

// formBody accumulates a multipart/form-data request body.
type formBody struct {
	buf bytes.Buffer
	w   *multipart.Writer
	err error
}

func newForm() *formBody {
	f := &formBody{}
	f.w = multipart.NewWriter(&f.buf)
	return f
}

func (f *formBody) field(name, value string) *formBody {
	if f.err == nil {
		f.err = f.w.WriteField(name, value)
	}
	return f
}

func (f *formBody) file(name, filename string, r io.Reader) *formBody {
	if f.err != nil {
		return f
	}
	part, err := f.w.CreateFormFile(name, filename)
	if err != nil {
		f.err = err
		return f
	}
	_, f.err = io.Copy(part, r)
	return f
}

func (f *formBody) finish() (io.Reader, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if err := f.w.Close(); err != nil {
		return nil, "", err
	}
	return &f.buf, f.w.FormDataContentType(), nil
}
