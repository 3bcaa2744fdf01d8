package comicpost

import (
	"context"
	"fmt"
	"os"
)

// Comic is the metadata the content API returns for a single strip.
type Comic struct {
	Num      int
	Title    string
	ImageURL string
	Alt      string
}

// Permalink returns the public page of the comic.
func (c Comic) Permalink(base string) string {
	return fmt.Sprintf("%s/%d/", base, c.Num)
}

// MediaAsset is a downloaded image ready to be published.
type MediaAsset struct {
	Data     []byte
	Filename string
	Caption  string
	// Path is set once the asset has been staged on disk.
	Path string
}

// UploadTarget is the single-use URL returned by photos.getWallUploadServer.
type UploadTarget struct {
	URL string
}

// UploadReceipt holds the opaque tokens returned by the upload server.
// They must be forwarded to photos.saveWallPhoto unchanged.
type UploadReceipt struct {
	Server string
	Photo  string
	Hash   string
}

// AlbumPlacement identifies a photo saved to the group's wall album.
type AlbumPlacement struct {
	OwnerID string
	PhotoID string
}

// Attachment renders the reference accepted by wall.post.
func (p AlbumPlacement) Attachment() string {
	return "photo" + p.OwnerID + "_" + p.PhotoID
}

// WallPost is the terminal artifact of a successful publish.
type WallPost struct {
	ID string
}

// Request defines the payload shared across mirror providers.
type Request struct {
	Message string
	Link    string
	Asset   MediaAsset
}

// Poster abstracts a social network that can mirror a published comic.
type Poster interface {
	Name() string
	Post(ctx context.Context, req Request) error
}

// Bytes returns the asset contents, reading the staged file when the
// in-memory copy has been dropped.
func (a MediaAsset) Bytes() ([]byte, error) {
	if len(a.Data) > 0 || a.Path == "" {
		return a.Data, nil
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, NewLocalIOError("read", a.Path, err)
	}
	return data, nil
}
