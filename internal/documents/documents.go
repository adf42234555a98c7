// Package documents writes documents into the grove tree and keeps every
// index of their document type in step.
//
// A document lives under its type's primary key layer. Plain types store the
// serialized document as an item keyed by id. History-keeping types store a
// tree per id holding one item per revision (keyed by EncodeU64(updatedAt))
// and a reference at key [0] to the latest one.
//
// Each index stores a chain of layers [prop]/<value>/[prop2]/<value2>/... and
// a terminal entry at key [0]. A unique index whose values are all non-null
// points [0] straight at the document. Otherwise [0] is a tree of document
// ids, each referencing its document.
package documents

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/pathquery"
	"github.com/roach88/docgrove/internal/value"
)

var (
	ErrDocumentExists   = errors.New("document already exists")
	ErrDocumentNotFound = errors.New("document not found")
	ErrImmutable        = errors.New("document type is immutable")
	ErrUniqueViolation  = errors.New("unique index violation")
	ErrStaleRevision    = errors.New("document revision must increase")
)

// terminalKey marks the end of an index chain and the latest revision of a
// history-keeping document.
var terminalKey = []byte{0}

// Writer inserts, replaces, and deletes documents.
type Writer struct {
	logger *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// NewWriter creates a Writer.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Insert stores a new document and its index entries.
func (w *Writer) Insert(tx *grove.Tx, dt *contract.DocumentType, doc *contract.Document) error {
	if err := doc.Normalize(dt); err != nil {
		return err
	}
	exists, err := tx.Has(dt.PrimaryKeyPath(), doc.ID.Bytes())
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDocumentExists, doc.ID)
	}
	if err := w.writePrimary(tx, dt, doc); err != nil {
		return err
	}
	for _, idx := range dt.Indexes {
		if err := w.addIndexEntry(tx, dt, idx, doc); err != nil {
			return err
		}
	}
	w.logger.Debug("document inserted",
		"document_type", dt.Name,
		"document_id", doc.ID.String(),
		"indexes", len(dt.Indexes))
	return nil
}

// Replace stores a new revision of an existing document.
func (w *Writer) Replace(tx *grove.Tx, dt *contract.DocumentType, doc *contract.Document) error {
	if !dt.Mutable {
		return fmt.Errorf("%w: %s", ErrImmutable, dt.Name)
	}
	if err := doc.Normalize(dt); err != nil {
		return err
	}
	old, err := Fetch(tx, dt, doc.ID)
	if err != nil {
		return err
	}
	if doc.Revision <= old.Revision {
		return fmt.Errorf("%w: stored %d, got %d", ErrStaleRevision, old.Revision, doc.Revision)
	}
	for _, idx := range dt.Indexes {
		if err := w.removeIndexEntry(tx, dt, idx, old); err != nil {
			return err
		}
	}
	if err := w.writePrimary(tx, dt, doc); err != nil {
		return err
	}
	for _, idx := range dt.Indexes {
		if err := w.addIndexEntry(tx, dt, idx, doc); err != nil {
			return err
		}
	}
	w.logger.Debug("document replaced",
		"document_type", dt.Name,
		"document_id", doc.ID.String(),
		"revision", doc.Revision)
	return nil
}

// Delete removes a document, all its revisions, and its index entries.
func (w *Writer) Delete(tx *grove.Tx, dt *contract.DocumentType, id value.Identifier) error {
	old, err := Fetch(tx, dt, id)
	if err != nil {
		return err
	}
	for _, idx := range dt.Indexes {
		if err := w.removeIndexEntry(tx, dt, idx, old); err != nil {
			return err
		}
	}
	if dt.KeepsHistory {
		docPath := append(dt.PrimaryKeyPath(), id.Bytes())
		res, err := tx.Query(pathquery.NewPathQuery(docPath, allKeys(), nil, nil))
		if err != nil {
			return err
		}
		// the latest-revision reference must go before the item it points at
		if err := tx.Delete(docPath, terminalKey); err != nil {
			return err
		}
		for _, it := range res.Items {
			if string(it.Key) == string(terminalKey) {
				continue
			}
			if err := tx.Delete(docPath, it.Key); err != nil {
				return err
			}
		}
	}
	if err := tx.Delete(dt.PrimaryKeyPath(), id.Bytes()); err != nil {
		return err
	}
	w.logger.Debug("document deleted", "document_type", dt.Name, "document_id", id.String())
	return nil
}

// Fetch loads the latest revision of a document.
func Fetch(tx *grove.Tx, dt *contract.DocumentType, id value.Identifier) (*contract.Document, error) {
	var (
		data []byte
		err  error
	)
	if dt.KeepsHistory {
		data, err = tx.GetItem(append(dt.PrimaryKeyPath(), id.Bytes()), terminalKey)
	} else {
		data, err = tx.GetItem(dt.PrimaryKeyPath(), id.Bytes())
	}
	if grove.IsAbsence(err) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return contract.UnmarshalDocument(data, dt)
}

func allKeys() *pathquery.Query {
	q := pathquery.New()
	q.InsertAll()
	return q
}

// primaryTarget is where index references point for a document.
func primaryTarget(dt *contract.DocumentType, id value.Identifier) ([][]byte, []byte) {
	if dt.KeepsHistory {
		return append(dt.PrimaryKeyPath(), id.Bytes()), terminalKey
	}
	return dt.PrimaryKeyPath(), id.Bytes()
}

func (w *Writer) writePrimary(tx *grove.Tx, dt *contract.DocumentType, doc *contract.Document) error {
	data, err := contract.MarshalDocument(doc)
	if err != nil {
		return err
	}
	if !dt.KeepsHistory {
		return tx.Insert(dt.PrimaryKeyPath(), doc.ID.Bytes(), grove.NewItem(data))
	}
	docPath := append(dt.PrimaryKeyPath(), doc.ID.Bytes())
	if err := tx.EnsurePath(docPath); err != nil {
		return err
	}
	revKey := contract.EncodeU64(doc.UpdatedAt)
	if err := tx.Insert(docPath, revKey, grove.NewItem(data)); err != nil {
		return err
	}
	return tx.Insert(docPath, terminalKey, grove.NewReference(docPath, revKey))
}

// indexChain returns the layer holding the index's terminal entry and whether
// any indexed value was null.
func indexChain(dt *contract.DocumentType, idx contract.Index, doc *contract.Document) ([][]byte, bool, error) {
	if len(idx.Properties) == 0 {
		return nil, false, &grove.CorruptedError{Message: fmt.Sprintf("index %q has no properties", idx.Name)}
	}
	path := dt.DocumentTypePath()
	hasNull := false
	for _, p := range idx.Properties {
		raw, ok, err := doc.RawForField(p.Name, dt)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			hasNull = true
			raw = []byte{}
		}
		path = append(path, []byte(p.Name), raw)
	}
	return path, hasNull, nil
}

func (w *Writer) addIndexEntry(tx *grove.Tx, dt *contract.DocumentType, idx contract.Index, doc *contract.Document) error {
	path, hasNull, err := indexChain(dt, idx, doc)
	if err != nil {
		return err
	}
	if err := tx.EnsurePath(path); err != nil {
		return err
	}
	refPath, refKey := primaryTarget(dt, doc.ID)
	ref := grove.NewReference(refPath, refKey)

	if idx.Unique && !hasNull {
		inserted, err := tx.InsertIfNotExists(path, terminalKey, ref)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("%w: index %q on %q", ErrUniqueViolation, idx.Name, dt.Name)
		}
		return nil
	}
	if _, err := tx.InsertTreeIfNotExists(path, terminalKey); err != nil {
		return err
	}
	return tx.Insert(append(path, terminalKey), doc.ID.Bytes(), ref)
}

func (w *Writer) removeIndexEntry(tx *grove.Tx, dt *contract.DocumentType, idx contract.Index, doc *contract.Document) error {
	path, hasNull, err := indexChain(dt, idx, doc)
	if err != nil {
		return err
	}
	keep := len(dt.DocumentTypePath())
	if idx.Unique && !hasNull {
		return tx.DeleteUpTreeWhileEmpty(path, terminalKey, keep)
	}
	return tx.DeleteUpTreeWhileEmpty(append(path, terminalKey), doc.ID.Bytes(), keep)
}
