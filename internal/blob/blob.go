package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/models"
)

const metaSuffix = ".meta.json"

// Item describes one stored document.
type Item struct {
	Name       string            `json:"name"`
	Size       int64             `json:"size"`
	ModifiedAt time.Time         `json:"modified_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Store is the managed document container, backed by a directory tree.
// Metadata rides in a JSON sidecar next to each object.
type Store struct {
	root          string
	containerHost string
	tokenSecret   []byte
	tokenTTL      time.Duration
	logger        *log.Logger
}

// NewStore opens (creating if needed) the container rooted at cfg.Root.
func NewStore(cfg config.BlobConfig, logger *log.Logger) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("blob.root not set")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[BLOB] ", log.LstdFlags)
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store{
		root:          cfg.Root,
		containerHost: strings.TrimSuffix(cfg.ContainerHost, "/"),
		tokenSecret:   []byte(cfg.TokenSecret),
		tokenTTL:      ttl,
		logger:        logger,
	}, nil
}

// resolve maps a blob name to a path under root, rejecting escapes.
func (s *Store) resolve(name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("empty blob name")
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Upload writes data under name, replacing any existing object.
func (s *Store) Upload(_ context.Context, name string, data []byte, metadata map[string]string) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if len(metadata) > 0 {
		if err := s.writeMeta(p, metadata); err != nil {
			return err
		}
	}
	return nil
}

// Download returns the object's bytes.
func (s *Store) Download(_ context.Context, name string) ([]byte, error) {
	p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	return data, nil
}

// Exists reports whether the object is present.
func (s *Store) Exists(_ context.Context, name string) (bool, error) {
	p, err := s.resolve(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
	return true, nil
}

// Delete removes the object and its metadata sidecar. Deleting a missing
// object is not an error.
func (s *Store) Delete(_ context.Context, name string) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	if err := os.Remove(p + metaSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s metadata: %w", name, err)
	}
	return nil
}

// List returns items whose names start with prefix, sorted by name. The
// config/ namespace is excluded; it holds runtime config, not documents.
func (s *Store) List(_ context.Context, prefix string) ([]Item, error) {
	var items []Item
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, "config/") {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		meta, _ := s.readMeta(p)
		items = append(items, Item{
			Name:       name,
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
			Metadata:   meta,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// ListNames returns every document name with its metadata. Rescans use this
// shape to find blobs missing the indexed marker.
func (s *Store) ListNames(ctx context.Context) (map[string]map[string]string, error) {
	items, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(items))
	for _, it := range items {
		meta := it.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		out[it.Name] = meta
	}
	return out, nil
}

// GetMetadata returns the object's metadata, nil when none was ever set.
func (s *Store) GetMetadata(_ context.Context, name string) (map[string]string, error) {
	p, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return s.readMeta(p)
}

// SetMetadata merges metadata into the object's sidecar.
func (s *Store) SetMetadata(_ context.Context, name string, metadata map[string]string) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("set metadata %s: %w", name, err)
	}
	existing, _ := s.readMeta(p)
	if existing == nil {
		existing = map[string]string{}
	}
	for k, v := range metadata {
		existing[k] = v
	}
	return s.writeMeta(p, existing)
}

func (s *Store) writeMeta(objectPath string, metadata map[string]string) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("serialize metadata: %w", err)
	}
	if err := os.WriteFile(objectPath+metaSuffix, raw, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func (s *Store) readMeta(objectPath string) (map[string]string, error) {
	raw, err := os.ReadFile(objectPath + metaSuffix)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return meta, nil
}

// SourceURL builds the public-facing URL for a stored document. The access
// token is left as a placeholder; rendering substitutes a freshly minted one
// so stored text never carries live credentials.
func (s *Store) SourceURL(name string) string {
	host := s.containerHost
	if host == "" {
		host = "http://localhost:8505/documents"
	}
	return host + "/" + name + "?token=" + models.SASPlaceholder
}

type containerClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// MintContainerToken issues a short-lived read token for the whole container.
func (s *Store) MintContainerToken() (string, error) {
	if len(s.tokenSecret) == 0 {
		return "", fmt.Errorf("blob.token_secret not set")
	}
	now := time.Now()
	claims := containerClaims{
		Scope: "container:read",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.tokenSecret)
	if err != nil {
		return "", fmt.Errorf("sign container token: %w", err)
	}
	return signed, nil
}

// VerifyContainerToken checks a token minted by MintContainerToken.
func (s *Store) VerifyContainerToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &containerClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.tokenSecret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid container token: %w", err)
	}
	claims, ok := token.Claims.(*containerClaims)
	if !ok || claims.Scope != "container:read" {
		return fmt.Errorf("invalid container token scope")
	}
	return nil
}
