package tagging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

const DefaultVendor = "track-archiver"

const (
	flacMarker         = "fLaC"
	flacLastBlockFlag  = 0x80
	flacBlockHeaderLen = 4
	flacMaxBlockLen    = 1<<24 - 1
)

var (
	ErrNotFLAC           = errors.New("stream does not start with a FLAC marker")
	ErrMissingStreamInfo = errors.New("first metadata block is not STREAMINFO")
	ErrInvalidBlock      = errors.New("invalid metadata block")
	ErrBlockTooLarge     = errors.New("metadata block too large")
	ErrInvalidTagName    = errors.New("invalid tag name")
)

// flacTagger rewrites the metadata section of a FLAC stream on the first Read, then passes the audio frames
// through unchanged. Only the metadata blocks are ever held in memory.
type flacTagger struct {
	src    io.Reader
	vendor string
	tags   map[string]string
	cover  *Cover
	out    io.Reader
	err    error
}

func newFLACTagger(src io.Reader, vendor string, tags map[string]string, cover *Cover) *flacTagger {
	return &flacTagger{src: src, vendor: vendor, tags: tags, cover: cover}
}

func (t *flacTagger) Read(p []byte) (int, error) {
	if t.err != nil {
		return 0, t.err
	}
	if t.out == nil {
		header, err := t.rewriteMetadata()
		if err != nil {
			t.err = err
			return 0, err
		}
		t.out = io.MultiReader(bytes.NewReader(header), t.src)
	}
	return t.out.Read(p)
}

// malformed turns truncation into a TagEmbedError, but leaves other read errors from upstream alone.
func malformed(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TagEmbedError{Format: FormatFLAC, Err: fmt.Errorf("truncated metadata: %w", io.ErrUnexpectedEOF)}
	}
	return err
}

func (t *flacTagger) rewriteMetadata() ([]byte, error) {
	marker := make([]byte, len(flacMarker))
	if _, err := io.ReadFull(t.src, marker); err != nil {
		return nil, malformed(err)
	}
	if string(marker) != flacMarker {
		return nil, &TagEmbedError{Format: FormatFLAC, Err: ErrNotFLAC}
	}

	var blocks []flac.MetaDataBlock
	for last := false; !last; {
		var header [flacBlockHeaderLen]byte
		if _, err := io.ReadFull(t.src, header[:]); err != nil {
			return nil, malformed(err)
		}
		last = header[0]&flacLastBlockFlag != 0
		blockType := flac.BlockType(header[0] &^ flacLastBlockFlag)
		length := int(header[1])<<16 | int(header[2])<<8 | int(header[3])
		if blockType == flac.Invalid {
			return nil, &TagEmbedError{Format: FormatFLAC, Err: ErrInvalidBlock}
		}
		if len(blocks) == 0 && blockType != flac.StreamInfo {
			return nil, &TagEmbedError{Format: FormatFLAC, Err: ErrMissingStreamInfo}
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(t.src, data); err != nil {
			return nil, malformed(err)
		}
		switch blockType {
		case flac.VorbisComment, flac.Picture, flac.Padding:
			// Replaced below
		default:
			blocks = append(blocks, flac.MetaDataBlock{Type: blockType, Data: data})
		}
	}

	comment, err := t.vorbisComment()
	if err != nil {
		return nil, &TagEmbedError{Format: FormatFLAC, Err: err}
	}
	blocks = append(blocks, comment)
	if t.cover != nil && t.cover.picture != nil {
		blocks = append(blocks, t.cover.picture.Marshal())
	}

	var buf bytes.Buffer
	buf.WriteString(flacMarker)
	for i, block := range blocks {
		if err := writeBlock(&buf, block, i == len(blocks)-1); err != nil {
			return nil, &TagEmbedError{Format: FormatFLAC, Err: err}
		}
	}
	return buf.Bytes(), nil
}

func (t *flacTagger) vorbisComment() (flac.MetaDataBlock, error) {
	comment := flacvorbis.New()
	comment.Vendor = t.vendor
	type field struct{ name, value string }
	fields := make([]field, 0, len(t.tags))
	for k, v := range t.tags {
		if !validTagName(k) {
			return flac.MetaDataBlock{}, fmt.Errorf("%w: %q", ErrInvalidTagName, k)
		}
		fields = append(fields, field{strings.ToUpper(k), v})
	}
	sort.Slice(fields, func(i, j int) bool {
		if fields[i].name != fields[j].name {
			return fields[i].name < fields[j].name
		}
		return fields[i].value < fields[j].value
	})
	for _, f := range fields {
		if err := comment.Add(f.name, f.value); err != nil {
			return flac.MetaDataBlock{}, fmt.Errorf("tag %q: %w", f.name, err)
		}
	}
	return comment.Marshal(), nil
}

// validTagName checks the Vorbis comment field name rules: printable ASCII other than '='.
func validTagName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if c < 0x20 || c > 0x7d || c == '=' {
			return false
		}
	}
	return true
}

func writeBlock(w *bytes.Buffer, block flac.MetaDataBlock, last bool) error {
	if len(block.Data) > flacMaxBlockLen {
		return fmt.Errorf("%w: %v is %d bytes", ErrBlockTooLarge, block.Type, len(block.Data))
	}
	typ := byte(block.Type)
	if last {
		typ |= flacLastBlockFlag
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(block.Data)))
	w.WriteByte(typ)
	w.Write(length[1:])
	w.Write(block.Data)
	return nil
}
