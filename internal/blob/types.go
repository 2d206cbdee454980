// Package blob is the entry point to blob storage. Callers depend on
// blob.Store; the infra drivers stay behind the constructors here.
package blob

import (
	"synopsis/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound is returned for missing keys.
	ErrNotFound = core.ErrNotFound
	// ErrExists is returned when a key is already taken.
	ErrExists = core.ErrExists
)
