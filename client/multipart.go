package client

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/tent/tent-go/auth"
)

// Encodes a post body plus attachments as multipart/form-data. The post JSON goes in a part
// named "post"; each attachment is a file part named by its category.
func encodeMultipart(preq *auth.ProtocolRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	postHdr := make(textproto.MIMEHeader)
	postHdr.Set("Content-Disposition", `form-data; name="post"; filename="post.json"`)
	postHdr.Set("Content-Type", preq.ContentType)
	part, err := w.CreatePart(postHdr)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(preq.Body); err != nil {
		return nil, "", err
	}

	for _, att := range preq.Attachments {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeHeaderAttr(att.Category), escapeHeaderAttr(att.Name)))
		hdr.Set("Content-Type", att.ContentType)
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func escapeHeaderAttr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
