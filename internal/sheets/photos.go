package sheets

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	drivev3 "google.golang.org/api/drive/v3"

	"tournament-desk/internal/apperr"
)

const (
	driveRefPrefix = "drive:"
	// Sheets cells hold at most 50000 characters.
	maxInlinePhoto = 45000
)

// storePhoto returns the reference written into the photo column.
func (c *Client) storePhoto(ctx context.Context, participantID string, photo []byte) (string, error) {
	if c.drive == nil {
		enc := base64.StdEncoding.EncodeToString(photo)
		if len(enc) > maxInlinePhoto {
			return "", apperr.Validation("photo too large to store in the sheet; configure a Drive photo folder")
		}
		return enc, nil
	}
	f, err := c.drive.Files.Create(&drivev3.File{
		Name:     participantID + ".jpg",
		MimeType: "image/jpeg",
		Parents:  []string{c.photoFolderID},
	}).Media(bytes.NewReader(photo)).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", apperr.Wrap(apperr.CodeNetwork, "upload photo", err)
	}
	return driveRefPrefix + f.Id, nil
}

func (c *Client) loadPhoto(ctx context.Context, ref string) ([]byte, error) {
	if id, ok := strings.CutPrefix(ref, driveRefPrefix); ok {
		if c.drive == nil {
			return nil, fmt.Errorf("photo %s is on Drive but no photo folder is configured", id)
		}
		resp, err := c.drive.Files.Get(id).Context(ctx).Download()
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeNetwork, "download photo", err)
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeNetwork, "download photo", err)
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(ref)
	if err != nil {
		return nil, fmt.Errorf("photo cell is not base64: %w", err)
	}
	return b, nil
}
