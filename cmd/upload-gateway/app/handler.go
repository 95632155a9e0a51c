package app

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bytetrade.io/web3os/upload-gateway/pkg/constants"
	"bytetrade.io/web3os/upload-gateway/pkg/upload/fileutils"
	"bytetrade.io/web3os/upload-gateway/pkg/upload/models"
	"bytetrade.io/web3os/upload-gateway/pkg/utils"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
	"k8s.io/klog/v2"
)

const (
	filenameParam = "filename"

	sniffLen = 512
)

// UploadForm stores every attached file of a multipart form under its
// sanitized name. Text fields are only logged.
func (a *appController) UploadForm(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		klog.Warningf("parse multipart form err:%v", err)
		a.server.metrics.errors.WithLabelValues("validation").Inc()
		return c.Status(fiber.StatusBadRequest).JSON(
			models.NewResponse(models.CodeError, "invalid multipart form", nil))
	}

	submission := models.NewFormSubmission(form)

	for _, field := range submission.Fields {
		klog.Infof("form: %s, %s", utils.QuoteForLog(field.Name), utils.QuoteForLog(field.Value))
	}
	a.server.metrics.formFields.Add(float64(len(submission.Fields)))

	stored := make([]models.StoredFile, 0, len(submission.Files))
	for _, file := range submission.Files {
		if !file.Attached() {
			klog.V(2).Infof("file: %s, nothing attached", utils.QuoteForLog(file.Field))
			continue
		}

		name := fileutils.StoredFilename(file.Header.Filename)
		n, err := a.server.store.SaveFileHeader(name, file.Header)
		if err != nil {
			klog.Errorf("file: %s, %s (%s), err:%v",
				utils.QuoteForLog(file.Field), utils.QuoteForLog(file.Header.Filename), name, err)
			return a.fail(c, err)
		}

		klog.Infof("file: %s, %s (%s)", utils.QuoteForLog(file.Field), utils.QuoteForLog(file.Header.Filename), name)
		generated := strconv.FormatBool(name != fileutils.SecureFilename(file.Header.Filename))
		a.server.metrics.filesSaved.WithLabelValues(generated).Inc()
		a.server.metrics.bytesSaved.Add(float64(n))

		stored = append(stored, models.StoredFile{
			Field:        file.Field,
			OriginalName: file.Header.Filename,
			Name:         name,
			Size:         n,
		})
	}

	klog.V(2).Infof("upload done, fields:%d, stored:%v", len(submission.Fields), stored)

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusOK).SendString(constants.UploadOKBody)
}

// DownloadFile streams a stored file. Names that try to leave the upload
// directory get 400, names that could never have been stored get 404.
func (a *appController) DownloadFile(c *fiber.Ctx) error {
	name, err := url.PathUnescape(c.Params(filenameParam))
	if err != nil {
		klog.Warningf("download name:%s, err:%v", utils.QuoteForLog(c.Params(filenameParam)), err)
		a.server.metrics.download(fiber.StatusBadRequest)
		return a.fail(c, fileutils.ErrInvalidFilename)
	}

	f, fi, err := a.server.store.Open(name)
	if err != nil {
		klog.Warningf("download name:%s, err:%v", utils.QuoteForLog(name), err)
		err = a.fail(c, err)
		a.server.metrics.download(c.Response().StatusCode())
		return err
	}

	ctype, err := contentType(f, name)
	if err != nil {
		f.Close()
		klog.Errorf("download name:%q, err:%v", name, err)
		a.server.metrics.download(fiber.StatusInternalServerError)
		return a.fail(c, &fileutils.StorageError{Op: "read", Name: name, Err: err})
	}

	a.server.metrics.download(fiber.StatusOK)
	klog.V(2).Infof("download name:%s, size:%d, type:%s", name, fi.Size(), ctype)

	c.Set(fiber.HeaderContentType, ctype)
	// the file is closed by fasthttp once the body has been written
	return c.Status(fiber.StatusOK).SendStream(f, int(fi.Size()))
}

func (a *appController) Healthz(c *fiber.Ctx) error {
	return c.JSON(models.NewResponse(models.CodeOK, "ok", nil))
}

// fail writes the error envelope for err and returns nil, the response is complete.
func (a *appController) fail(c *fiber.Ctx, err error) error {
	code, kind := statusFor(err)
	a.server.metrics.errors.WithLabelValues(kind).Inc()

	msg := err.Error()
	if code >= fiber.StatusInternalServerError {
		// do not leak filesystem paths to clients
		msg = http.StatusText(code)
	}
	return c.Status(code).JSON(models.NewResponse(models.CodeError, msg, nil))
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, fileutils.ErrInvalidFilename):
		return fiber.StatusBadRequest, "validation"
	case errors.Is(err, fileutils.ErrTraversal):
		return fiber.StatusForbidden, "traversal"
	case errors.Is(err, fileutils.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, fileutils.ErrInsufficientStorage):
		return fiber.StatusInsufficientStorage, "storage"
	default:
		return fiber.StatusInternalServerError, "storage"
	}
}

// contentType infers the type from the extension, or sniffs the first bytes
// of f when the name has none. f is rewound afterwards.
func contentType(f *os.File, name string) (string, error) {
	if ext := filepath.Ext(name); ext != "" {
		return fiberutils.GetMIME(strings.ToLower(ext)), nil
	}

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	if n == 0 {
		return fiber.MIMEOctetStream, nil
	}
	return http.DetectContentType(buf[:n]), nil
}
