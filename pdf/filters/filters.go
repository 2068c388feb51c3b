// Package filters decodes PDF stream filters. Only decoding is provided;
// documents are read, never written.
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Common errors
var (
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrDecodeFailed      = errors.New("decode failed")
)

// DecodeFunc decodes filtered stream data. Params carries the matching
// DecodeParms dictionary entries, when present.
type DecodeFunc func(data []byte, params map[string]interface{}) ([]byte, error)

// decoders maps filter names, including their abbreviated forms, to
// their decode functions.
var decoders = map[string]DecodeFunc{
	"FlateDecode":     flateDecode,
	"Fl":              flateDecode,
	"ASCIIHexDecode":  asciiHexDecode,
	"AHx":             asciiHexDecode,
	"ASCII85Decode":   ascii85Decode,
	"A85":             ascii85Decode,
	"LZWDecode":       lzwDecode,
	"LZW":             lzwDecode,
	"RunLengthDecode": runLengthDecode,
	"RL":              runLengthDecode,
}

// GetDecoder returns the decode function for a filter name.
func GetDecoder(name string) (DecodeFunc, error) {
	if fn, ok := decoders[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
}

// DecodeStream runs stream data through a filter chain in order.
func DecodeStream(data []byte, filters []string, decodeParms []map[string]interface{}) ([]byte, error) {
	result := data

	for i, filterName := range filters {
		decode, err := GetDecoder(filterName)
		if err != nil {
			return nil, err
		}

		var params map[string]interface{}
		if i < len(decodeParms) {
			params = decodeParms[i]
		}

		result, err = decode(result, params)
		if err != nil {
			return nil, fmt.Errorf("filter %s decode failed: %w", filterName, err)
		}
	}

	return result, nil
}

// flateDecode inflates zlib-compressed data and applies any declared
// predictor.
func flateDecode(data []byte, params map[string]interface{}) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	return applyPredictor(buf.Bytes(), params)
}

// asciiHexDecode decodes a hex-encoded stream, ignoring whitespace and
// stopping at the '>' end marker.
func asciiHexDecode(data []byte, _ map[string]interface{}) ([]byte, error) {
	var cleaned bytes.Buffer
	for _, b := range data {
		if b == '>' {
			break
		}
		if b != ' ' && b != '\t' && b != '\n' && b != '\r' {
			cleaned.WriteByte(b)
		}
	}

	hexStr := cleaned.String()
	if len(hexStr)%2 != 0 {
		hexStr += "0"
	}
	return hex.DecodeString(hexStr)
}

// ascii85Decode decodes base85 data up to the ~> end marker.
func ascii85Decode(data []byte, _ map[string]interface{}) ([]byte, error) {
	if end := bytes.Index(data, []byte("~>")); end != -1 {
		data = data[:end]
	}

	var cleaned bytes.Buffer
	for _, b := range data {
		if b != ' ' && b != '\t' && b != '\n' && b != '\r' {
			cleaned.WriteByte(b)
		}
	}

	decoder := ascii85.NewDecoder(bytes.NewReader(cleaned.Bytes()))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, decoder); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return buf.Bytes(), nil
}

// runLengthDecode expands run-length encoded data. A length byte below
// 128 copies length+1 literal bytes, above 128 repeats the next byte
// 257-length times, and 128 marks the end of data.
func runLengthDecode(data []byte, _ map[string]interface{}) ([]byte, error) {
	var output bytes.Buffer
	i := 0

	for i < len(data) {
		length := int(data[i])
		i++

		switch {
		case length == 128:
			return output.Bytes(), nil
		case length < 128:
			count := length + 1
			if i+count > len(data) {
				return nil, fmt.Errorf("%w: truncated run-length data", ErrDecodeFailed)
			}
			output.Write(data[i : i+count])
			i += count
		default:
			if i >= len(data) {
				return nil, fmt.Errorf("%w: truncated run-length data", ErrDecodeFailed)
			}
			count := 257 - length
			for j := 0; j < count; j++ {
				output.WriteByte(data[i])
			}
			i++
		}
	}

	return output.Bytes(), nil
}

// lzwDecode implements the early-change LZW variant used by PDF, which
// differs from compress/lzw in when the code length grows.
func lzwDecode(data []byte, params map[string]interface{}) ([]byte, error) {
	earlyChange := 1
	if ec, ok := params["EarlyChange"].(int); ok {
		earlyChange = ec
	}

	const clearCode = 256
	const eodCode = 257

	dict := make(map[int][]byte)
	for i := 0; i < 256; i++ {
		dict[i] = []byte{byte(i)}
	}

	nextCode := 258
	codeLen := 9

	bitPos := 0
	readCode := func() int {
		if bitPos+codeLen > len(data)*8 {
			return eodCode
		}

		code := 0
		for i := 0; i < codeLen; i++ {
			byteIdx := (bitPos + i) / 8
			bitIdx := 7 - ((bitPos + i) % 8)
			if byteIdx < len(data) && (data[byteIdx]>>bitIdx)&1 == 1 {
				code |= 1 << (codeLen - 1 - i)
			}
		}
		bitPos += codeLen
		return code
	}

	var output bytes.Buffer
	var prevSeq []byte

	for {
		code := readCode()

		if code == eodCode {
			break
		}

		if code == clearCode {
			dict = make(map[int][]byte)
			for i := 0; i < 256; i++ {
				dict[i] = []byte{byte(i)}
			}
			nextCode = 258
			codeLen = 9
			prevSeq = nil
			continue
		}

		var seq []byte
		if s, ok := dict[code]; ok {
			seq = s
		} else if code == nextCode && prevSeq != nil {
			seq = append(prevSeq, prevSeq[0])
		} else {
			return nil, fmt.Errorf("invalid LZW code: %d", code)
		}

		output.Write(seq)

		if prevSeq != nil {
			dict[nextCode] = append(prevSeq, seq[0])
			nextCode++

			threshold := 512
			if earlyChange == 1 {
				threshold = 511
			}
			if nextCode >= threshold && codeLen < 12 {
				codeLen++
				threshold = 1 << codeLen
				if earlyChange == 1 {
					threshold--
				}
			}
		}

		prevSeq = seq
	}

	return applyPredictor(output.Bytes(), params)
}

// applyPredictor reverses the PNG row predictor declared in the decode
// parameters. Predictor values below 10 leave the data unchanged.
func applyPredictor(data []byte, params map[string]interface{}) ([]byte, error) {
	predictor := 1
	if p, ok := params["Predictor"].(int); ok {
		predictor = p
	}
	if predictor < 10 || predictor > 15 {
		return data, nil
	}

	columns := 1
	if c, ok := params["Columns"].(int); ok {
		columns = c
	}
	colors := 1
	if c, ok := params["Colors"].(int); ok {
		colors = c
	}
	bitsPerComponent := 8
	if b, ok := params["BitsPerComponent"].(int); ok {
		bitsPerComponent = b
	}

	bytesPerPixel := (colors*bitsPerComponent + 7) / 8
	rowLength := (columns*colors*bitsPerComponent+7)/8 + 1 // +1 for filter byte

	return decodePNGRows(data, rowLength, bytesPerPixel)
}

func decodePNGRows(data []byte, rowLength, bytesPerPixel int) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	output := make([]byte, 0, len(data))
	prevRow := make([]byte, rowLength-1)

	for i := 0; i+rowLength <= len(data); i += rowLength {
		filterType := data[i]
		row := data[i+1 : i+rowLength]
		decodedRow := make([]byte, len(row))

		switch filterType {
		case 0: // None
			copy(decodedRow, row)
		case 1: // Sub
			for j := range row {
				left := byte(0)
				if j >= bytesPerPixel {
					left = decodedRow[j-bytesPerPixel]
				}
				decodedRow[j] = row[j] + left
			}
		case 2: // Up
			for j := range row {
				decodedRow[j] = row[j] + prevRow[j]
			}
		case 3: // Average
			for j := range row {
				left := byte(0)
				if j >= bytesPerPixel {
					left = decodedRow[j-bytesPerPixel]
				}
				decodedRow[j] = row[j] + byte((int(left)+int(prevRow[j]))/2)
			}
		case 4: // Paeth
			for j := range row {
				left := byte(0)
				upLeft := byte(0)
				if j >= bytesPerPixel {
					left = decodedRow[j-bytesPerPixel]
					upLeft = prevRow[j-bytesPerPixel]
				}
				decodedRow[j] = row[j] + paethPredictor(left, prevRow[j], upLeft)
			}
		default:
			copy(decodedRow, row)
		}

		output = append(output, decodedRow...)
		copy(prevRow, decodedRow)
	}

	return output, nil
}

func paethPredictor(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa := abs(p - int(a))
	pb := abs(p - int(b))
	pc := abs(p - int(c))

	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
