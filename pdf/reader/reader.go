// Package reader parses PDF files far enough to reach their signatures:
// the xref chain across incremental updates, the document structure, and
// the signature dictionaries with their byte ranges.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/swedenconnect/sig-validation-base/pdf/filters"
	"github.com/swedenconnect/sig-validation-base/pdf/generic"
)

// Common errors
var (
	ErrInvalidPDF      = errors.New("invalid PDF file")
	ErrNoXRef          = errors.New("no xref found")
	ErrObjectNotFound  = errors.New("object not found")
	ErrInvalidXRef     = errors.New("invalid xref")
	ErrUnsupportedXRef = errors.New("unsupported xref type")
)

var headerRegex = regexp.MustCompile(`%PDF-(\d+\.\d+)`)

// XRefEntry locates one object: a file offset for regular objects, or a
// container stream and index for compressed ones.
type XRefEntry struct {
	Offset     int64
	Generation int
	InUse      bool
	// For object streams
	ObjectStreamRef int
	IndexInStream   int
}

// PdfFileReader reads and parses PDF files. The xref chain is walked from
// the last revision backwards; the first entry seen for an object number
// wins, so later revisions shadow earlier ones.
type PdfFileReader struct {
	data    []byte
	Version string
	Trailer *generic.TrailerDictionary
	XRef    map[int]*XRefEntry
	Objects map[int]generic.PdfObject

	// Document structure
	Root     *generic.DictionaryObject
	Pages    []*generic.DictionaryObject
	AcroForm *generic.DictionaryObject

	// XRefOffsets and Trailers record the revision chain, newest first.
	XRefOffsets []int64
	Trailers    []*generic.TrailerDictionary

	// Encrypted is set when the trailer carries an Encrypt entry.
	Encrypted bool
}

// NewPdfFileReader creates a new PDF reader.
func NewPdfFileReader(r io.Reader) (*PdfFileReader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF data: %w", err)
	}
	return NewPdfFileReaderFromBytes(data)
}

// NewPdfFileReaderFromBytes creates a new PDF reader from bytes.
func NewPdfFileReaderFromBytes(data []byte) (*PdfFileReader, error) {
	reader := &PdfFileReader{
		data:    data,
		XRef:    make(map[int]*XRefEntry),
		Objects: make(map[int]generic.PdfObject),
	}
	if err := reader.parse(); err != nil {
		return nil, err
	}
	return reader, nil
}

// Data returns the raw PDF data.
func (r *PdfFileReader) Data() []byte {
	return r.data
}

func (r *PdfFileReader) parse() error {
	if err := r.parseHeader(); err != nil {
		return err
	}
	if err := r.findAndParseXRef(); err != nil {
		return err
	}
	if r.Trailer == nil {
		return ErrNoXRef
	}
	r.Encrypted = r.Trailer.Has("Encrypt")
	return r.loadDocumentStructure()
}

// parseHeader locates the version marker, which may sit after some leading
// bytes.
func (r *PdfFileReader) parseHeader() error {
	if len(r.data) < 8 {
		return ErrInvalidPDF
	}

	probe := r.data
	if len(probe) > 100 {
		probe = probe[:100]
	}
	match := headerRegex.Find(probe)
	if match == nil {
		return fmt.Errorf("%w: missing PDF header", ErrInvalidPDF)
	}
	r.Version = string(match[len("%PDF-"):])
	return nil
}

// findAndParseXRef locates the last startxref marker and walks the
// revision chain from there.
func (r *PdfFileReader) findAndParseXRef() error {
	startxrefPos := bytes.LastIndex(r.data, []byte("startxref"))
	if startxrefPos == -1 {
		return ErrNoXRef
	}

	offset, err := r.parseXRefOffset(r.data[startxrefPos+len("startxref"):])
	if err != nil {
		return err
	}
	return r.parseXRefChain(offset)
}

// parseXRefOffset reads the decimal offset following startxref.
func (r *PdfFileReader) parseXRefOffset(data []byte) (int64, error) {
	i := 0
	for i < len(data) && isWS(data[i]) {
		i++
	}
	start := i
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	if start == i {
		return 0, fmt.Errorf("%w: missing xref offset", ErrInvalidXRef)
	}

	offset, err := strconv.ParseInt(string(data[start:i]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid xref offset: %v", ErrInvalidXRef, err)
	}
	return offset, nil
}

// parseXRefChain follows the Prev links through every revision. Loops are
// cut short rather than rejected.
func (r *PdfFileReader) parseXRefChain(offset int64) error {
	visited := make(map[int64]bool)

	for offset > 0 {
		if visited[offset] {
			break
		}
		visited[offset] = true
		r.XRefOffsets = append(r.XRefOffsets, offset)

		if offset >= int64(len(r.data)) {
			return fmt.Errorf("%w: xref offset out of bounds", ErrInvalidXRef)
		}

		pos := r.skipWS(int(offset))

		var (
			trailer *generic.TrailerDictionary
			err     error
		)
		if pos+4 < len(r.data) && string(r.data[pos:pos+4]) == "xref" {
			trailer, err = r.parseXRefTable(pos)
		} else {
			trailer, err = r.parseXRefStream(int64(pos))
		}
		if err != nil {
			return err
		}

		r.Trailers = append(r.Trailers, trailer)
		if r.Trailer == nil {
			r.Trailer = trailer
		}

		offset = 0
		if prev, ok := trailer.GetPrev(); ok {
			offset = prev
		}
	}
	return nil
}

// skipWS advances pos past whitespace in the file data.
func (r *PdfFileReader) skipWS(pos int) int {
	for pos < len(r.data) && isWS(r.data[pos]) {
		pos++
	}
	return pos
}

func isWS(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}

// parseXRefTable parses a traditional xref section and its trailer.
func (r *PdfFileReader) parseXRefTable(pos int) (*generic.TrailerDictionary, error) {
	pos = r.skipWS(pos + 4)

	for {
		if pos+7 < len(r.data) && string(r.data[pos:pos+7]) == "trailer" {
			pos += 7
			break
		}

		startObj, count, newPos, err := r.parseXRefSubsectionHeader(pos)
		if err != nil {
			return nil, err
		}
		pos = newPos

		for i := 0; i < count; i++ {
			entry, newPos, err := r.parseXRefEntry(pos)
			if err != nil {
				return nil, err
			}
			pos = newPos

			objNum := startObj + i
			if _, exists := r.XRef[objNum]; !exists {
				r.XRef[objNum] = entry
			}
		}
	}

	pos = r.skipWS(pos)

	parser := generic.NewParserFromBytes(r.data[pos:])
	obj, err := parser.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("failed to parse trailer: %w", err)
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: trailer must be dictionary", ErrInvalidXRef)
	}
	return &generic.TrailerDictionary{DictionaryObject: dict}, nil
}

// parseXRefSubsectionHeader reads a "start count" subsection line.
func (r *PdfFileReader) parseXRefSubsectionHeader(pos int) (startObj, count, newPos int, err error) {
	readInt := func() (int, bool) {
		start := pos
		for pos < len(r.data) && r.data[pos] >= '0' && r.data[pos] <= '9' {
			pos++
		}
		if start == pos {
			return 0, false
		}
		n, _ := strconv.ParseInt(string(r.data[start:pos]), 10, 32)
		return int(n), true
	}

	pos = r.skipWS(pos)
	startObj, ok := readInt()
	if !ok {
		return 0, 0, pos, fmt.Errorf("%w: missing subsection start", ErrInvalidXRef)
	}

	for pos < len(r.data) && (r.data[pos] == ' ' || r.data[pos] == '\t') {
		pos++
	}
	count, ok = readInt()
	if !ok {
		return 0, 0, pos, fmt.Errorf("%w: missing subsection count", ErrInvalidXRef)
	}

	// Skip to the start of the first entry line
	for pos < len(r.data) && r.data[pos] != '\n' && r.data[pos] != '\r' {
		pos++
	}
	for pos < len(r.data) && (r.data[pos] == '\n' || r.data[pos] == '\r') {
		pos++
	}
	return startObj, count, pos, nil
}

// parseXRefEntry reads one fixed-width entry:
// 10-digit offset, space, 5-digit generation, space, 'n' or 'f', EOL.
func (r *PdfFileReader) parseXRefEntry(pos int) (*XRefEntry, int, error) {
	if pos+20 > len(r.data) {
		return nil, pos, fmt.Errorf("%w: truncated xref entry", ErrInvalidXRef)
	}
	line := string(r.data[pos : pos+20])

	offset, err := strconv.ParseInt(strings.TrimSpace(line[:10]), 10, 64)
	if err != nil {
		return nil, pos, fmt.Errorf("%w: invalid offset: %v", ErrInvalidXRef, err)
	}
	gen, err := strconv.ParseInt(strings.TrimSpace(line[11:16]), 10, 32)
	if err != nil {
		return nil, pos, fmt.Errorf("%w: invalid generation: %v", ErrInvalidXRef, err)
	}

	pos += 20
	for pos < len(r.data) && (r.data[pos] == '\n' || r.data[pos] == '\r' || r.data[pos] == ' ') {
		pos++
	}

	return &XRefEntry{
		Offset:     offset,
		Generation: int(gen),
		InUse:      line[17] == 'n',
	}, pos, nil
}

// parseXRefStream parses a cross-reference stream.
func (r *PdfFileReader) parseXRefStream(offset int64) (*generic.TrailerDictionary, error) {
	parser := generic.NewParserFromBytes(r.data[offset:])
	indirectObj, err := parser.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("failed to parse xref stream: %w", err)
	}
	stream, ok := indirectObj.Object.(*generic.StreamObject)
	if !ok {
		return nil, fmt.Errorf("%w: xref stream expected", ErrInvalidXRef)
	}
	dict := stream.Dictionary

	streamData, err := r.decodeStream(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to decode xref stream: %w", err)
	}

	wArray := dict.GetArray("W")
	if wArray == nil || len(wArray) != 3 {
		return nil, fmt.Errorf("%w: invalid W array", ErrInvalidXRef)
	}
	var w [3]int
	for i, v := range wArray {
		if iv, ok := v.(generic.IntegerObject); ok {
			w[i] = int(iv)
		}
	}
	entrySize := w[0] + w[1] + w[2]
	if entrySize == 0 {
		return nil, fmt.Errorf("%w: zero entry size", ErrInvalidXRef)
	}

	var indexPairs []int
	if indexArray := dict.GetArray("Index"); indexArray != nil {
		for _, v := range indexArray {
			if iv, ok := v.(generic.IntegerObject); ok {
				indexPairs = append(indexPairs, int(iv))
			}
		}
	} else if size, ok := dict.GetInt("Size"); ok {
		indexPairs = []int{0, int(size)}
	}

	dataPos := 0
	for i := 0; i+1 < len(indexPairs); i += 2 {
		startObj := indexPairs[i]
		count := indexPairs[i+1]

		for j := 0; j < count; j++ {
			if dataPos+entrySize > len(streamData) {
				break
			}
			entry := parseXRefStreamEntry(streamData[dataPos:dataPos+entrySize], w)
			objNum := startObj + j
			if _, exists := r.XRef[objNum]; !exists {
				r.XRef[objNum] = entry
			}
			dataPos += entrySize
		}
	}

	return &generic.TrailerDictionary{DictionaryObject: dict}, nil
}

// parseXRefStreamEntry decodes one binary entry per the W widths.
func parseXRefStreamEntry(data []byte, w [3]int) *XRefEntry {
	readField := func(start, length int) int64 {
		var val int64
		for i := 0; i < length && start+i < len(data); i++ {
			val = (val << 8) | int64(data[start+i])
		}
		return val
	}

	typ := readField(0, w[0])
	if w[0] == 0 {
		typ = 1 // default per the spec
	}
	field2 := readField(w[0], w[1])
	field3 := readField(w[0]+w[1], w[2])

	switch typ {
	case 0:
		return &XRefEntry{Offset: field2, Generation: int(field3), InUse: false}
	case 1:
		return &XRefEntry{Offset: field2, Generation: int(field3), InUse: true}
	case 2:
		return &XRefEntry{ObjectStreamRef: int(field2), IndexInStream: int(field3), InUse: true}
	default:
		return &XRefEntry{InUse: false}
	}
}

// loadDocumentStructure resolves the catalog, the page tree and the form
// dictionary.
func (r *PdfFileReader) loadDocumentStructure() error {
	rootRef := r.Trailer.GetRoot()
	if rootRef == nil {
		return fmt.Errorf("%w: missing Root", ErrInvalidPDF)
	}
	rootObj, err := r.GetObject(rootRef.ObjectNumber)
	if err != nil {
		return fmt.Errorf("failed to load Root: %w", err)
	}
	root, ok := rootObj.(*generic.DictionaryObject)
	if !ok {
		return fmt.Errorf("%w: Root must be dictionary", ErrInvalidPDF)
	}
	r.Root = root

	if err := r.loadPages(); err != nil {
		return fmt.Errorf("failed to load pages: %w", err)
	}

	// AcroForm may be an indirect reference or an inline dictionary.
	if acroFormRef, ok := r.Root.Get("AcroForm").(generic.Reference); ok {
		if acroFormObj, err := r.GetObject(acroFormRef.ObjectNumber); err == nil {
			if acroForm, ok := acroFormObj.(*generic.DictionaryObject); ok {
				r.AcroForm = acroForm
			}
		}
	} else if acroForm := r.Root.GetDict("AcroForm"); acroForm != nil {
		r.AcroForm = acroForm
	}

	return nil
}

func (r *PdfFileReader) loadPages() error {
	pagesRef, ok := r.Root.Get("Pages").(generic.Reference)
	if !ok {
		return fmt.Errorf("%w: missing Pages reference", ErrInvalidPDF)
	}
	pagesObj, err := r.GetObject(pagesRef.ObjectNumber)
	if err != nil {
		return err
	}
	pagesDict, ok := pagesObj.(*generic.DictionaryObject)
	if !ok {
		return fmt.Errorf("%w: Pages must be dictionary", ErrInvalidPDF)
	}
	return r.loadPageTree(pagesDict)
}

func (r *PdfFileReader) loadPageTree(node *generic.DictionaryObject) error {
	if node.GetName("Type") == "Page" {
		r.Pages = append(r.Pages, node)
		return nil
	}

	for _, kid := range node.GetArray("Kids") {
		ref, ok := kid.(generic.Reference)
		if !ok {
			continue
		}
		kidObj, err := r.GetObject(ref.ObjectNumber)
		if err != nil {
			continue
		}
		kidDict, ok := kidObj.(*generic.DictionaryObject)
		if !ok {
			continue
		}
		if err := r.loadPageTree(kidDict); err != nil {
			return err
		}
	}
	return nil
}

// GetPageCount returns the number of pages.
func (r *PdfFileReader) GetPageCount() int {
	return len(r.Pages)
}

// GetObject retrieves an object by object number.
func (r *PdfFileReader) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := r.Objects[objNum]; ok {
		return obj, nil
	}

	entry, ok := r.XRef[objNum]
	if !ok {
		return nil, fmt.Errorf("%w: object %d", ErrObjectNotFound, objNum)
	}
	if !entry.InUse {
		return nil, fmt.Errorf("%w: object %d is free", ErrObjectNotFound, objNum)
	}

	var (
		obj generic.PdfObject
		err error
	)
	if entry.ObjectStreamRef > 0 {
		obj, err = r.getObjectFromStream(entry.ObjectStreamRef, entry.IndexInStream)
	} else {
		obj, err = r.getObjectAtOffset(entry.Offset)
	}
	if err != nil {
		return nil, err
	}

	r.Objects[objNum] = obj
	return obj, nil
}

// ResolveReference resolves a reference to its actual object; any other
// object passes through.
func (r *PdfFileReader) ResolveReference(obj generic.PdfObject) (generic.PdfObject, error) {
	if ref, ok := obj.(generic.Reference); ok {
		return r.GetObject(ref.ObjectNumber)
	}
	return obj, nil
}

func (r *PdfFileReader) getObjectAtOffset(offset int64) (generic.PdfObject, error) {
	if offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("%w: offset out of bounds", ErrObjectNotFound)
	}

	parser := generic.NewParserFromBytes(r.data[offset:])
	indirectObj, err := parser.ParseIndirectObject()
	if err != nil {
		return nil, err
	}

	if stream, ok := indirectObj.Object.(*generic.StreamObject); ok {
		if decoded, err := r.decodeStream(stream); err == nil {
			stream.Decoded = decoded
		}
	}
	return indirectObj.Object, nil
}

// getObjectFromStream retrieves a compressed object from its container
// stream.
func (r *PdfFileReader) getObjectFromStream(streamObjNum, index int) (generic.PdfObject, error) {
	streamObj, err := r.GetObject(streamObjNum)
	if err != nil {
		return nil, err
	}
	stream, ok := streamObj.(*generic.StreamObject)
	if !ok {
		return nil, fmt.Errorf("object stream %d is not a stream", streamObjNum)
	}

	data := stream.GetDecodedData()
	if len(data) == 0 {
		data, err = r.decodeStream(stream)
		if err != nil {
			return nil, err
		}
	}

	n, _ := stream.Dictionary.GetInt("N")
	first, _ := stream.Dictionary.GetInt("First")
	if first > int64(len(data)) {
		return nil, fmt.Errorf("%w: object stream index out of bounds", ErrObjectNotFound)
	}

	// The stream opens with n pairs of "objnum offset"
	type indexEntry struct{ objNum, offset int }
	var offsets []indexEntry

	parser := generic.NewParserFromBytes(data[:first])
	for i := int64(0); i < n; i++ {
		objNumObj, err := parser.ParseObject()
		if err != nil {
			break
		}
		offsetObj, err := parser.ParseObject()
		if err != nil {
			break
		}
		on, _ := objNumObj.(generic.IntegerObject)
		off, _ := offsetObj.(generic.IntegerObject)
		offsets = append(offsets, indexEntry{int(on), int(off)})
	}

	if index >= len(offsets) {
		return nil, fmt.Errorf("index %d out of bounds", index)
	}

	objOffset := int(first) + offsets[index].offset
	parser = generic.NewParserFromBytes(data[objOffset:])
	return parser.ParseObjectOrReference()
}

// decodeStream runs a stream's data through its declared filter chain.
func (r *PdfFileReader) decodeStream(stream *generic.StreamObject) ([]byte, error) {
	data := stream.Data

	var filterNames []string
	switch f := stream.Dictionary.Get("Filter").(type) {
	case generic.NameObject:
		filterNames = []string{string(f)}
	case generic.ArrayObject:
		for _, item := range f {
			if name, ok := item.(generic.NameObject); ok {
				filterNames = append(filterNames, string(name))
			}
		}
	}
	if len(filterNames) == 0 {
		return data, nil
	}

	var decodeParms []map[string]interface{}
	if dp := stream.Dictionary.Get("DecodeParms"); dp != nil {
		decodeParms = extractDecodeParms(dp)
	}
	return filters.DecodeStream(data, filterNames, decodeParms)
}

func extractDecodeParms(obj generic.PdfObject) []map[string]interface{} {
	var result []map[string]interface{}
	switch v := obj.(type) {
	case *generic.DictionaryObject:
		result = append(result, dictToMap(v))
	case generic.ArrayObject:
		for _, item := range v {
			if dict, ok := item.(*generic.DictionaryObject); ok {
				result = append(result, dictToMap(dict))
			} else {
				result = append(result, nil)
			}
		}
	}
	return result
}

func dictToMap(dict *generic.DictionaryObject) map[string]interface{} {
	if dict == nil {
		return nil
	}
	result := make(map[string]interface{})
	for _, key := range dict.Keys() {
		switch v := dict.Get(key).(type) {
		case generic.IntegerObject:
			result[key] = int(v)
		case generic.RealObject:
			result[key] = float64(v)
		case generic.BooleanObject:
			result[key] = bool(v)
		case generic.NameObject:
			result[key] = string(v)
		case *generic.StringObject:
			result[key] = v.Text()
		}
	}
	return result
}
