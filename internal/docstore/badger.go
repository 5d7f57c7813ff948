package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend keeps documents as keys of the form collection/id. Badger
// transactions give Apply its all-or-nothing guarantee.
type BadgerBackend struct {
	db *badger.DB
}

func NewBadgerBackend(db *badger.DB) *BadgerBackend {
	return &BadgerBackend{db: db}
}

func docKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

func (b *BadgerBackend) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(collection + "/")
	var out []Document
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(prefix):])
			body, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Document{ID: id, Data: body})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerBackend) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc *Document
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(collection, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		body, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		doc = &Document{ID: id, Data: body}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (b *BadgerBackend) Put(ctx context.Context, collection string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey(collection, doc.ID), doc.Data)
	})
}

func (b *BadgerBackend) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(docKey(collection, id))
	})
}

func (b *BadgerBackend) Apply(ctx context.Context, collection string, puts []Document, deletes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, doc := range puts {
			if err := txn.Set(docKey(collection, doc.ID), doc.Data); err != nil {
				return err
			}
		}
		for _, id := range deletes {
			if err := txn.Delete(docKey(collection, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}

func (b *BadgerBackend) Close() error { return b.db.Close() }
