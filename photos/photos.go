// Package photos stores profile pictures.
package photos

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"nicmeup/clock"
	"nicmeup/store"
)

var ErrNotConfigured = errors.New("photos: no upload backend configured")

// Uploader stores an image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, publicID string, r io.Reader) (string, error)
}

type Cloudinary struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinary(url string) (*Cloudinary, error) {
	cld, err := cloudinary.NewFromURL(url)
	if err != nil {
		return nil, fmt.Errorf("cloudinary config: %w", err)
	}
	return &Cloudinary{cld: cld, folder: "nicmeup/photos"}, nil
}

func (c *Cloudinary) Upload(ctx context.Context, publicID string, r io.Reader) (string, error) {
	res, err := c.cld.Upload.Upload(ctx, r, uploader.UploadParams{
		Folder:         c.folder,
		PublicID:       publicID,
		Transformation: "c_limit,w_800,h_800,q_auto",
	})
	if err != nil {
		return "", err
	}
	if res.Error.Message != "" {
		return "", errors.New(res.Error.Message)
	}
	return res.SecureURL, nil
}

// Service uploads a user's photo and points their profile at it.
type Service struct {
	uploader Uploader
	users    *store.Users
	clock    clock.Clock
}

// NewService accepts a nil uploader; uploads then fail with ErrNotConfigured.
func NewService(u Uploader, users *store.Users, c clock.Clock) *Service {
	return &Service{uploader: u, users: users, clock: c}
}

func (s *Service) SetProfilePhoto(ctx context.Context, userID string, r io.Reader) (string, error) {
	if s.uploader == nil {
		return "", ErrNotConfigured
	}
	publicID := userID + "_" + s.clock.Now().Format("20060102150405")
	url, err := s.uploader.Upload(ctx, publicID, r)
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	if err := s.users.Update(ctx, userID, store.Fields{"photoUrl": url}); err != nil {
		return "", err
	}
	return url, nil
}
