// Package client talks to an upload gateway: it posts multipart forms to
// /upload and fetches stored files from /uploads/{filename}.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bytetrade.io/web3os/upload-gateway/pkg/constants"

	"github.com/go-resty/resty/v2"
	"k8s.io/klog/v2"
)

var ErrNotFound = errors.New("file not found on server")

// StatusError is returned for any unexpected response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response %d: %s", e.Code, e.Body)
}

type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")).SetTimeout(timeout),
	}
}

// Upload posts one multipart form. fields are sent as text fields, files maps
// a field name to a local file path.
func (c *Client) Upload(ctx context.Context, fields map[string]string, files map[string]string) error {
	if len(fields) == 0 && len(files) == 0 {
		return errors.New("nothing to upload")
	}

	req := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(fields)
	for field, path := range files {
		req.SetFile(field, path)
	}

	resp, err := req.Post(constants.UploadRoute)
	if err != nil {
		return err
	}

	body := resp.String()
	if resp.StatusCode() != http.StatusOK || body != constants.UploadOKBody {
		return &StatusError{Code: resp.StatusCode(), Body: body}
	}

	klog.V(2).Infof("uploaded fields:%d, files:%d", len(fields), len(files))
	return nil
}

// Download writes the stored file name to w and returns the number of bytes written.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(constants.DownloadRoute + "/" + url.PathEscape(name))
	if err != nil {
		return 0, err
	}

	body := resp.RawBody()
	defer body.Close()

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, ErrNotFound
	default:
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		return 0, &StatusError{Code: resp.StatusCode(), Body: string(msg)}
	}

	return io.Copy(w, body)
}
