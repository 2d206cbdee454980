// Package backup writes inventory snapshots to blob storage and restores
// them into an empty store.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"synopsis/internal/blob"
	"synopsis/internal/infra/persistence/memory"
	"synopsis/pkg/domain"
)

// FormatVersion is written into every document.
const FormatVersion = 1

const contentType = "application/json"

// ErrStoreNotEmpty is returned when a restore targets a populated inventory.
var ErrStoreNotEmpty = errors.New("restore target is not empty")

// Document is the serialized form of one backup.
type Document struct {
	ID        uuid.UUID       `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Version   int             `json:"version"`
	Inventory memory.Snapshot `json:"inventory"`
}

// Source is anything that can export its committed state.
type Source interface {
	ExportState() memory.Snapshot
}

// Manager stores backups below a key prefix of a blob store.
type Manager struct {
	store  blob.Store
	prefix string
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewManager binds a manager to store. Keys are written below prefix.
func NewManager(store blob.Store, prefix string, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		store:  store,
		prefix: prefix,
		log:    logger.WithField("component", "backup"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create exports src and writes it as a new blob.
func (m *Manager) Create(ctx context.Context, src Source) (blob.Info, error) {
	doc := Document{
		ID:        uuid.New(),
		CreatedAt: m.now(),
		Version:   FormatVersion,
		Inventory: src.ExportState(),
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode backup: %w", err)
	}
	key := fmt.Sprintf("%s%s-%s.json", m.prefix, doc.CreatedAt.Format("20060102T150405Z"), doc.ID)
	info, err := m.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"backup-id": doc.ID.String(),
			"version":   fmt.Sprint(FormatVersion),
			"hosts":     fmt.Sprint(len(doc.Inventory.Hosts)),
			"services":  fmt.Sprint(len(doc.Inventory.Services)),
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store backup %s: %w", key, err)
	}
	m.log.WithFields(logrus.Fields{"key": key, "size": info.Size}).Info("backup written")
	return info, nil
}

// List returns the stored backups, newest first.
func (m *Manager) List(ctx context.Context) ([]blob.Info, error) {
	infos, err := m.store.List(ctx, m.prefix)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Key, ".json") {
			out = append(out, info)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	return out, nil
}

// Load reads and decodes the backup stored at key.
func (m *Manager) Load(ctx context.Context, key string) (Document, error) {
	_, body, err := m.store.Get(ctx, key)
	if err != nil {
		return Document{}, err
	}
	defer func() { _ = body.Close() }()
	raw, err := io.ReadAll(body)
	if err != nil {
		return Document{}, fmt.Errorf("read backup %s: %w", key, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode backup %s: %w", key, err)
	}
	if doc.Version != FormatVersion {
		return Document{}, fmt.Errorf("backup %s: unsupported version %d", key, doc.Version)
	}
	return doc, nil
}

// Restore loads the backup at key and applies it to target.
func (m *Manager) Restore(ctx context.Context, key string, target Target) (domain.Result, error) {
	doc, err := m.Load(ctx, key)
	if err != nil {
		return domain.Result{}, err
	}
	res, err := Apply(ctx, target, doc.Inventory, m.log)
	if err != nil {
		return res, err
	}
	m.log.WithFields(logrus.Fields{"key": key, "backup_id": doc.ID}).Info("backup restored")
	return res, nil
}

// Target is a store a snapshot can be restored into. The memory store and
// every durable store built on it implement it.
type Target interface {
	Restore(ctx context.Context, snap memory.Snapshot) (domain.Result, error)
}

// Apply restores snap into target, keeping every id, every stored host
// reference and the id sequences. The target must be empty. Memberships
// naming rows missing from the snapshot are dropped with a warning.
func Apply(ctx context.Context, target Target, snap memory.Snapshot, logger logrus.FieldLogger) (domain.Result, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	hosts := make(map[int64]struct{}, len(snap.Hosts))
	for _, r := range snap.Hosts {
		hosts[r.ID] = struct{}{}
	}
	services := make(map[int64]struct{}, len(snap.Services))
	for _, r := range snap.Services {
		services[r.ID] = struct{}{}
		if r.HostID != nil {
			if _, ok := hosts[*r.HostID]; !ok {
				logger.WithFields(logrus.Fields{"service": r.ID, "host": *r.HostID}).Info("keeping reference to deleted host")
			}
		}
	}
	hostGroups := make(map[int64]struct{}, len(snap.HostGroups))
	for _, r := range snap.HostGroups {
		hostGroups[r.ID] = struct{}{}
	}
	serviceGroups := make(map[int64]struct{}, len(snap.ServiceGroups))
	for _, r := range snap.ServiceGroups {
		serviceGroups[r.ID] = struct{}{}
	}
	for _, l := range snap.HostMemberships {
		if !linked(hosts, hostGroups, l) {
			logger.WithFields(logrus.Fields{"host": l.Left, "group": l.Right}).Warn("dangling host membership in backup")
		}
	}
	for _, l := range snap.ServiceMemberships {
		if !linked(services, serviceGroups, l) {
			logger.WithFields(logrus.Fields{"service": l.Left, "group": l.Right}).Warn("dangling service membership in backup")
		}
	}

	res, err := target.Restore(ctx, snap)
	if errors.Is(err, memory.ErrNotEmpty) {
		return res, ErrStoreNotEmpty
	}
	return res, err
}

func linked(members, groups map[int64]struct{}, l domain.Link) bool {
	_, memberOK := members[l.Left]
	_, groupOK := groups[l.Right]
	return memberOK && groupOK
}
