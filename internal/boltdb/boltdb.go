// Package boltdb persists the history of completed downloads in a bbolt database.
package boltdb

import (
	"encoding/json"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/alanbriolat/track-archiver/download"
)

var Buckets = struct {
	Metadata  []byte
	Downloads []byte
}{
	Metadata:  []byte("__metadata__"),
	Downloads: []byte("downloads"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

const currentVersion = 1

type Database interface {
	Close() error
	ListDownloads() ([]download.Record, error)
	WriteDownload(record download.Record) error
	DeleteDownload(id download.DownloadID) error

	download.History
}

type database struct {
	*bbolt.DB
}

func New(path string) (_ Database, err error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) (err error) {
		// Ensure buckets exist
		var metadata *bbolt.Bucket
		if metadata, err = tx.CreateBucketIfNotExists(Buckets.Metadata); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.Downloads); err != nil {
			return err
		}

		// Get the current version of the database
		var version int
		if versionBytes := metadata.Get(MetadataKeys.Version); versionBytes == nil {
			version = 0
		} else if err = json.Unmarshal(versionBytes, &version); err != nil {
			return err
		}

		// Set the current version of the database
		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else if err = metadata.Put(MetadataKeys.Version, versionBytes); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &database{db}, nil
}

// ListDownloads returns every recorded download, oldest completion first.
func (d database) ListDownloads() (downloads []download.Record, err error) {
	err = d.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(Buckets.Downloads)
		return bucket.ForEach(func(k, v []byte) error {
			var record download.Record
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			} else {
				downloads = append(downloads, record)
				return nil
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(downloads, func(i, j int) bool {
		return downloads[i].CompletedAt.Before(downloads[j].CompletedAt)
	})
	return downloads, nil
}

func (d database) WriteDownload(record download.Record) error {
	if data, err := json.Marshal(record); err != nil {
		return err
	} else {
		return d.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket(Buckets.Downloads)
			return bucket.Put([]byte(record.ID), data)
		})
	}
}

func (d database) RecordDownload(record download.Record) error {
	return d.WriteDownload(record)
}

func (d database) DeleteDownload(id download.DownloadID) error {
	return d.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(Buckets.Downloads)
		return bucket.Delete([]byte(id))
	})
}
