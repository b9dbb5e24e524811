package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
	"gorm.io/datatypes"

	"github.com/aidea-studio/aidea-backend/internal/domain"
	"github.com/aidea-studio/aidea-backend/internal/platform/logger"
	"github.com/aidea-studio/aidea-backend/internal/repos"
	"github.com/aidea-studio/aidea-backend/internal/turn"
)

// GalleryService persists generated assets: content to GCS, metadata to the
// database. Save satisfies turn.GallerySaver.
type GalleryService interface {
	Save(ctx context.Context, rec turn.GalleryRecord) (string, error)
	List(ctx context.Context, userID string, limit int) ([]*domain.GalleryItem, error)
	GetByAssetID(ctx context.Context, assetID string) (*domain.GalleryItem, error)
}

type galleryService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
	cdnDomain     string
	items         repos.GalleryItemRepo
	httpClient    *http.Client
}

func NewGalleryService(log *logger.Logger, items repos.GalleryItemRepo) (GalleryService, error) {
	serviceLog := log.With("service", "GalleryService")
	bucket := os.Getenv("GCS_BUCKET_NAME")
	if bucket == "" {
		return nil, fmt.Errorf("missing env var GCS_BUCKET_NAME")
	}
	cdnDomain := os.Getenv("CDN_DOMAIN")
	saPath := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")

	ctx := context.Background()
	var (
		stClient *storage.Client
		err      error
	)
	if saPath != "" {
		stClient, err = storage.NewClient(ctx, option.WithCredentialsFile(saPath), option.WithScopes(storage.ScopeReadWrite))
	} else {
		stClient, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &galleryService{
		log:           serviceLog,
		storageClient: stClient,
		bucketName:    bucket,
		cdnDomain:     cdnDomain,
		items:         items,
		httpClient:    &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Save uploads the asset's content and writes its metadata row, returning
// the durable public URL.
func (gs *galleryService) Save(ctx context.Context, rec turn.GalleryRecord) (string, error) {
	userID, err := uuid.Parse(rec.UserID)
	if err != nil {
		return "", fmt.Errorf("parse user id: %w", err)
	}

	content, mime, err := gs.fetchContent(ctx, rec.Src)
	if err != nil {
		return "", fmt.Errorf("fetch asset content: %w", err)
	}

	key := fmt.Sprintf("assets/%s/%s%s", rec.UserID, rec.AssetID, extensionFor(mime))
	if err := gs.upload(ctx, key, mime, content); err != nil {
		return "", fmt.Errorf("upload asset: %w", err)
	}
	url := gs.publicURL(key)

	item := &domain.GalleryItem{
		ID:            uuid.New(),
		UserID:        userID,
		AssetID:       rec.AssetID,
		Kind:          string(rec.Kind),
		URL:           url,
		Prompt:        rec.Prompt,
		Model:         string(rec.Model),
		SourceAssetID: rec.SourceID,
		Width:         rec.Width,
		Height:        rec.Height,
		Metadata:      galleryMetadata(mime, key, len(content)),
	}
	if err := gs.items.Create(ctx, nil, item); err != nil {
		return "", fmt.Errorf("save gallery row: %w", err)
	}
	gs.log.Info("asset persisted", "asset", rec.AssetID, "key", key)
	return url, nil
}

func (gs *galleryService) List(ctx context.Context, userID string, limit int) ([]*domain.GalleryItem, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return gs.items.ListByUserID(ctx, nil, uid, limit)
}

func (gs *galleryService) GetByAssetID(ctx context.Context, assetID string) (*domain.GalleryItem, error) {
	return gs.items.GetByAssetID(ctx, nil, assetID)
}

// fetchContent resolves a content reference to raw bytes: data URIs decode
// in place, anything else is fetched over HTTP (a video operation's result
// URI, for instance).
func (gs *galleryService) fetchContent(ctx context.Context, src string) ([]byte, string, error) {
	if mime, data, ok := splitDataURI(src); ok {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, "", fmt.Errorf("decode data uri: %w", err)
		}
		return raw, mime, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := gs.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch %q: http %d", src, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return raw, mime, nil
}

func (gs *galleryService) upload(ctx context.Context, key, mime string, content []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := gs.storageClient.Bucket(gs.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = mime
	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close GCS writer: %w", err)
	}
	return nil
}

func (gs *galleryService) publicURL(key string) string {
	if gs.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", gs.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", gs.bucketName, key)
}

// galleryMetadata records upload facts the columns don't carry: the content
// type, the object key in the bucket and the byte size.
func galleryMetadata(mime, key string, size int) datatypes.JSON {
	raw, err := json.Marshal(map[string]any{
		"mimeType":   mime,
		"storageKey": key,
		"sizeBytes":  size,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func extensionFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ""
	}
}
