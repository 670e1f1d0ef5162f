// Package mailparse turns RFC 5322 messages into intake emails.
package mailparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/infrastructure/extractor/htmltext"
	"golang.org/x/text/encoding/htmlindex"
)

const maxNestingDepth = 8

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

type collector struct {
	plain       strings.Builder
	html        []string
	attachments []domain.Attachment
}

// Parse reads headers, text body and attachments. text/plain parts are
// concatenated; text/html is used only when no plain part exists.
func Parse(raw []byte) (domain.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return domain.Email{}, fmt.Errorf("read message: %w", err)
	}

	email := domain.Email{
		MessageID: strings.TrimSpace(msg.Header.Get("Message-ID")),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		To:        decodeHeader(msg.Header.Get("To")),
		Date:      strings.TrimSpace(msg.Header.Get("Date")),
	}
	email.FromName, email.FromEmail = parseFrom(msg.Header.Get("From"))

	c := &collector{}
	if err := c.walk(partHeader(msg.Header), msg.Body, 0); err != nil {
		return domain.Email{}, err
	}

	email.Body = c.plain.String()
	if strings.TrimSpace(email.Body) == "" && len(c.html) > 0 {
		email.Body = htmltext.ConvertString(strings.Join(c.html, "\n"))
	}
	email.Attachments = c.attachments
	return email, nil
}

type header interface {
	Get(key string) string
}

type partHeader mail.Header

func (h partHeader) Get(key string) string {
	return mail.Header(h).Get(key)
}

func (c *collector) walk(h header, body io.Reader, depth int) error {
	if depth > maxNestingDepth {
		return errors.New("message nesting too deep")
	}

	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart message without boundary")
		}
		reader := multipart.NewReader(body, boundary)
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read multipart: %w", err)
			}
			if err := c.walk(part.Header, part, depth+1); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(transferDecoder(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return fmt.Errorf("decode %s part: %w", mediaType, err)
	}

	disposition, dispParams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	filename := decodeHeader(dispParams["filename"])
	if filename == "" {
		filename = decodeHeader(params["name"])
	}

	isAttachment := strings.Contains(strings.ToLower(disposition), "attachment") ||
		(filename != "" && !strings.HasPrefix(mediaType, "text/"))
	switch {
	case isAttachment:
		if filename == "" {
			return nil
		}
		c.attachments = append(c.attachments, domain.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Data:        data,
		})
	case mediaType == "text/plain":
		c.plain.WriteString(decodeCharset(data, params["charset"]))
	case mediaType == "text/html":
		c.html = append(c.html, decodeCharset(data, params["charset"]))
	}
	return nil
}

func transferDecoder(encoding string, body io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, body)
	case "quoted-printable":
		return quotedprintable.NewReader(body)
	default:
		return body
	}
}

func decodeCharset(data []byte, charset string) string {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return toValidUTF8(data)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return toValidUTF8(data)
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return toValidUTF8(data)
	}
	return string(decoded)
}

func toValidUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}

func decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// parseFrom splits a From header into display name and address.
func parseFrom(value string) (string, string) {
	decoded := decodeHeader(value)
	if addr, err := mail.ParseAddress(decoded); err == nil {
		return addr.Name, addr.Address
	}
	if idx := strings.Index(decoded, "<"); idx >= 0 {
		name := strings.Trim(strings.TrimSpace(decoded[:idx]), `"`)
		address := strings.TrimSuffix(strings.TrimSpace(decoded[idx+1:]), ">")
		return name, address
	}
	return "", decoded
}
