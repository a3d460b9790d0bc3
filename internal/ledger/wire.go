package ledger

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"

	"github.com/roach88/deeds/internal/api"
	"github.com/roach88/deeds/internal/ir"
)

// Stream layout:
//
//	magic "DEEDLDGR" | version uint16 BE | contract id (32 bytes) | frame*
//
// Each frame is a uint32 BE length followed by that many bytes of
// snappy-compressed JSON. The first frame holds the articles, every later
// frame one operation.
const (
	WireMagic   = "DEEDLDGR"
	WireVersion = uint16(1)

	headerSize   = len(WireMagic) + 2 + 32
	maxFrameSize = 64 << 20
)

// Export writes the articles and the minimal operation set that lets a
// receiver reconstruct the cells owned by tokens: their producers, every
// ancestor reached through destroyed and read cells, and the producers of
// published immutable state. Operations are written in stash order; the
// genesis is implied by the articles.
func (l *Ledger) Export(tokens []ir.AuthToken, w io.Writer) error {
	st := l.stock.State()
	var roots []ir.Opid
	for _, tok := range tokens {
		addr, ok := st.Raw.LookupAddr(tok)
		if !ok {
			return fmt.Errorf("export: auth token %s is not live", tok)
		}
		roots = append(roots, addr.Opid)
	}
	return l.export(roots, w)
}

// ExportAll writes every valid stashed operation, including those whose
// outputs are all spent or never owned. Rolled back operations are left out.
func (l *Ledger) ExportAll(w io.Writer) error {
	return l.write(w, l.IsValid)
}

func (l *Ledger) export(roots []ir.Opid, w io.Writer) error {
	schema := l.stock.Articles().Schema
	st := l.stock.State()
	for _, name := range schema.Default.ImmutableNames() {
		if !schema.Default.IsPublished(name) {
			continue
		}
		for addr := range st.Main.Immutable[name] {
			roots = append(roots, addr.Opid)
		}
	}

	set, err := l.exportSet(roots)
	if err != nil {
		return err
	}
	return l.write(w, func(opid ir.Opid) bool {
		_, ok := set[opid]
		return ok
	})
}

// write streams the header, the articles and the stashed operations
// accepted by include, in stash order.
func (l *Ledger) write(w io.Writer, include func(ir.Opid) bool) error {
	articles := l.stock.Articles()
	ops, err := l.stock.Operations()
	if err != nil {
		return persistenceError(ir.Opid{}, "list operations", err)
	}

	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, articles.ContractID); err != nil {
		return err
	}
	if err := writeFrame(bw, articles); err != nil {
		return fmt.Errorf("export: articles: %w", err)
	}
	written := 0
	for _, e := range ops {
		if !include(e.Opid) {
			continue
		}
		if err := writeFrame(bw, e.Operation); err != nil {
			return fmt.Errorf("export: operation %s: %w", e.Opid, err)
		}
		written++
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	l.logger.Info("contract exported",
		"contract", articles.ContractID.String(),
		"operations", written)
	return nil
}

// exportSet walks from roots through the destroyed cells recorded in the
// trace and through read cells.
func (l *Ledger) exportSet(roots []ir.Opid) (map[ir.Opid]struct{}, error) {
	genesis := l.ContractID().GenesisOpid()
	set := make(map[ir.Opid]struct{})
	queue := roots
	for len(queue) > 0 {
		opid := queue[0]
		queue = queue[1:]
		if _, ok := set[opid]; ok || opid == genesis {
			continue
		}
		set[opid] = struct{}{}
		tr, err := l.stock.Transition(opid)
		if err != nil {
			return nil, persistenceError(opid, "load transition", err)
		}
		for addr := range tr.Destroyed {
			queue = append(queue, addr.Opid)
		}
		op, err := l.stock.Operation(opid)
		if err != nil {
			return nil, persistenceError(opid, "load operation", err)
		}
		for _, addr := range op.ImmutableIn {
			queue = append(queue, addr.Opid)
		}
	}
	return set, nil
}

// AcceptReport counts what an import did.
type AcceptReport struct {
	Applied         int  `json:"applied"`
	Present         int  `json:"present"`
	ArticlesChanged bool `json:"articles_changed"`
}

// Accept imports a stream written by Export. The header is checked before
// anything changes. Operations are applied one by one through the codex;
// the first failure stops the import, and whatever was applied before it
// stays applied and committed.
func (l *Ledger) Accept(r io.Reader) (AcceptReport, error) {
	var report AcceptReport
	br := bufio.NewReader(r)
	if err := l.readHeader(br); err != nil {
		return report, err
	}

	payload, err := readFrame(br)
	if err != nil {
		return report, decodeError("articles frame", err)
	}
	var articles api.Articles
	if err := json.Unmarshal(payload, &articles); err != nil {
		return report, decodeError("articles", err)
	}
	changed, err := l.UpgradeApis(articles)
	if err != nil {
		return report, err
	}
	report.ArticlesChanged = changed

	err = l.acceptOperations(br, &report)
	if cerr := l.CommitTransaction(); err == nil {
		err = cerr
	}
	if err != nil {
		return report, err
	}
	l.logger.Info("contract accepted",
		"contract", l.ContractID().String(),
		"applied", report.Applied,
		"present", report.Present)
	return report, nil
}

func (l *Ledger) acceptOperations(br *bufio.Reader, report *AcceptReport) error {
	for {
		payload, err := readFrame(br)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return decodeError("operation frame", err)
		}
		var op ir.Operation
		if err := json.Unmarshal(payload, &op); err != nil {
			return decodeError("operation", err)
		}
		present, err := l.ApplyVerify(op)
		if err != nil {
			return err
		}
		if present {
			report.Present++
		} else {
			report.Applied++
		}
	}
}

func (l *Ledger) readHeader(r io.Reader) error {
	id, err := parseHeader(r)
	if err != nil {
		return err
	}
	if id != l.ContractID() {
		return &AcceptError{
			Code:    ErrCodeContractMismatch,
			Message: fmt.Sprintf("stream carries contract %s, ledger holds %s", id, l.ContractID()),
		}
	}
	return nil
}

func parseHeader(r io.Reader) (ir.ContractID, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return ir.ContractID{}, decodeError("header", err)
	}
	if string(header[:len(WireMagic)]) != WireMagic {
		return ir.ContractID{}, decodeError("header", fmt.Errorf("bad magic %q", header[:len(WireMagic)]))
	}
	version := binary.BigEndian.Uint16(header[len(WireMagic):])
	if version != WireVersion {
		return ir.ContractID{}, decodeError("header", fmt.Errorf("unsupported version %d", version))
	}
	var id ir.ContractID
	copy(id[:], header[len(WireMagic)+2:])
	return id, nil
}

// ReadArticles decodes the header and articles frame of an exported stream
// without a ledger. It lets a receiver issue an empty replica before
// accepting the stream.
func ReadArticles(r io.Reader) (api.Articles, error) {
	id, err := parseHeader(r)
	if err != nil {
		return api.Articles{}, err
	}
	payload, err := readFrame(r)
	if err != nil {
		return api.Articles{}, decodeError("articles frame", err)
	}
	var articles api.Articles
	if err := json.Unmarshal(payload, &articles); err != nil {
		return api.Articles{}, decodeError("articles", err)
	}
	if articles.ContractID != id {
		return api.Articles{}, &AcceptError{
			Code:    ErrCodeContractMismatch,
			Message: fmt.Sprintf("header names contract %s, articles describe %s", id, articles.ContractID),
		}
	}
	return articles, nil
}

func writeHeader(w io.Writer, id ir.ContractID) error {
	var header [headerSize]byte
	copy(header[:], WireMagic)
	binary.BigEndian.PutUint16(header[len(WireMagic):], WireVersion)
	copy(header[len(WireMagic)+2:], id[:])
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("export: header: %w", err)
	}
	return nil
}

func writeFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return &AcceptError{Code: ErrCodeSerialize, Message: "encode frame", Err: err}
	}
	compressed := snappy.Encode(nil, payload)
	if len(compressed) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(compressed))
	}
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(compressed)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	_, err = w.Write(compressed)
	return err
}

// readFrame returns io.EOF only when the stream ends exactly between frames.
func readFrame(r io.Reader) ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(size[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	compressed := make([]byte, n)
	if _, err := io.ReadFull(r, compressed); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func decodeError(what string, err error) error {
	return &AcceptError{Code: ErrCodeDecode, Message: "malformed " + what, Err: err}
}
