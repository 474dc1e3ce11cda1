package tagging

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"

	"github.com/alanbriolat/track-archiver/asset"
)

var (
	btsFLAC  = asset.Descriptor{ID: "1", ManifestMimeType: asset.ManifestTidalBTS, Codec: "flac", URLs: []string{"http://x/1"}}
	rawFLAC  = asset.Descriptor{ID: "2", ManifestMimeType: asset.ManifestRaw, Codec: "FLAC", URLs: []string{"http://x/2.flac"}}
	dashFLAC = asset.Descriptor{ID: "3", ManifestMimeType: asset.ManifestDASH, Codec: "flac", URLs: []string{"http://x/3"}}
	btsAAC   = asset.Descriptor{ID: "4", ManifestMimeType: asset.ManifestTidalBTS, Codec: "mp4a.40.2", URLs: []string{"http://x/4"}}
)

type block struct {
	typ  byte
	data []byte
}

func encodeFLAC(blocks []block, audio []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("fLaC")
	for i, b := range blocks {
		typ := b.typ
		if i == len(blocks)-1 {
			typ |= 0x80
		}
		buf.WriteByte(typ)
		buf.Write([]byte{byte(len(b.data) >> 16), byte(len(b.data) >> 8), byte(len(b.data))})
		buf.Write(b.data)
	}
	buf.Write(audio)
	return buf.Bytes()
}

// decodeFLAC splits a FLAC stream into its metadata blocks and the remaining audio bytes, checking that exactly the
// final block carries the last-block flag.
func decodeFLAC(t *testing.T, data []byte) ([]block, []byte) {
	require := require_.New(t)
	require.True(bytes.HasPrefix(data, []byte("fLaC")))
	data = data[4:]
	var blocks []block
	for {
		require.GreaterOrEqual(len(data), 4)
		last := data[0]&0x80 != 0
		length := int(data[1])<<16 | int(data[2])<<8 | int(data[3])
		require.GreaterOrEqual(len(data), 4+length)
		blocks = append(blocks, block{data[0] &^ 0x80, data[4 : 4+length]})
		data = data[4+length:]
		if last {
			return blocks, data
		}
	}
}

func decodeVorbisComment(t *testing.T, data []byte) (string, []string) {
	require := require_.New(t)
	r := bytes.NewReader(data)
	var n uint32
	require.NoError(binary.Read(r, binary.LittleEndian, &n))
	vendor := make([]byte, n)
	_, err := io.ReadFull(r, vendor)
	require.NoError(err)
	var count uint32
	require.NoError(binary.Read(r, binary.LittleEndian, &count))
	var comments []string
	for i := uint32(0); i < count; i++ {
		require.NoError(binary.Read(r, binary.LittleEndian, &n))
		c := make([]byte, n)
		_, err := io.ReadFull(r, c)
		require.NoError(err)
		comments = append(comments, string(c))
	}
	return string(vendor), comments
}

func samplePNG(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require_.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var (
	streamInfo = bytes.Repeat([]byte{0x11}, 34)
	seekTable  = bytes.Repeat([]byte{0x22}, 18)
	oldComment = []byte("not really a vorbis comment")
	audio      = []byte("\xff\xf8audio frames go here")
)

func sampleFLAC() []byte {
	return encodeFLAC([]block{
		{0, streamInfo},
		{byte(4), oldComment},
		{3, seekTable},
		{6, []byte("old picture")},
		{1, make([]byte, 100)},
	}, audio)
}

type fakeFetcher struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

func TestFormatOf(t *testing.T) {
	assert := assert_.New(t)

	assert.Equal(FormatFLAC, FormatOf(btsFLAC))
	assert.Equal(FormatFLAC, FormatOf(rawFLAC))
	assert.Equal(FormatNone, FormatOf(dashFLAC))
	assert.Equal(FormatNone, FormatOf(btsAAC))
	assert.Equal("FLAC", FormatFLAC.String())
	assert.Equal("none", FormatNone.String())
}

func TestInjector_Wrap_NilSpec(t *testing.T) {
	assert := assert_.New(t)

	inj := NewInjector(nil)
	src := bytes.NewReader([]byte("anything"))
	// Pass-through is the identical reader, not just the same bytes
	assert.Same(src, inj.Wrap(btsFLAC, src, nil, nil))
	assert.Same(src, inj.Wrap(btsAAC, src, nil, nil))
}

func TestInjector_Wrap_UnsupportedFormat(t *testing.T) {
	assert := assert_.New(t)

	inj := NewInjector(nil)
	src := bytes.NewReader([]byte("anything"))
	assert.Same(src, inj.Wrap(dashFLAC, src, &asset.TagSpec{Tags: map[string]string{"title": "x"}}, nil))
}

func TestInjector_Wrap_FLAC(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	inj := NewInjector(nil)
	spec := &asset.TagSpec{Tags: map[string]string{"title": "Song", "artist": "Band", "ALBUM": "Record"}}
	out, err := io.ReadAll(inj.Wrap(btsFLAC, bytes.NewReader(sampleFLAC()), spec, nil))
	require.NoError(err)

	blocks, rest := decodeFLAC(t, out)
	require.Len(blocks, 3)
	assert.Equal(byte(0), blocks[0].typ)
	assert.Equal(streamInfo, blocks[0].data)
	assert.Equal(byte(3), blocks[1].typ)
	assert.Equal(seekTable, blocks[1].data)
	assert.Equal(byte(4), blocks[2].typ)
	vendor, comments := decodeVorbisComment(t, blocks[2].data)
	assert.Equal(DefaultVendor, vendor)
	assert.Equal([]string{"ALBUM=Record", "ARTIST=Band", "TITLE=Song"}, comments)
	// Audio frames are untouched
	assert.Equal(audio, rest)
}

func TestInjector_Wrap_FLACWithCover(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	img := samplePNG(t)
	inj := NewInjector(&fakeFetcher{data: img})
	spec := &asset.TagSpec{Tags: map[string]string{"title": "Song"}, CoverURL: "http://covers/1.png"}
	cover := inj.Cover(context.Background(), btsFLAC, spec)
	require.NotNil(cover)
	assert.Equal("image/png", cover.MimeType)
	assert.Equal(3, cover.Width)
	assert.Equal(2, cover.Height)

	out, err := io.ReadAll(inj.Wrap(btsFLAC, bytes.NewReader(sampleFLAC()), spec, cover))
	require.NoError(err)
	blocks, rest := decodeFLAC(t, out)
	require.Len(blocks, 4)
	assert.Equal(byte(4), blocks[2].typ)
	assert.Equal(byte(6), blocks[3].typ)
	// Picture data ends with the image itself
	assert.True(bytes.HasSuffix(blocks[3].data, img))
	assert.Equal(audio, rest)
}

func TestInjector_Cover(t *testing.T) {
	assert := assert_.New(t)
	ctx := context.Background()
	img := samplePNG(t)

	fetcher := &fakeFetcher{data: img}
	inj := NewInjector(fetcher)
	assert.Nil(inj.Cover(ctx, btsFLAC, nil))
	assert.Nil(inj.Cover(ctx, btsFLAC, &asset.TagSpec{}))
	assert.Nil(inj.Cover(ctx, dashFLAC, &asset.TagSpec{CoverURL: "http://covers/1.png"}))
	// None of the above should have needed to fetch anything
	assert.Equal(0, fetcher.calls)
	assert.NotNil(inj.Cover(ctx, btsFLAC, &asset.TagSpec{CoverURL: "http://covers/1.png"}))
	assert.Equal(1, fetcher.calls)

	// Failures are swallowed
	failing := NewInjector(&fakeFetcher{err: errors.New("404")})
	assert.Nil(failing.Cover(ctx, btsFLAC, &asset.TagSpec{CoverURL: "http://covers/missing.png"}))
	notImage := NewInjector(&fakeFetcher{data: []byte("<html>nope</html>")})
	assert.Nil(notImage.Cover(ctx, btsFLAC, &asset.TagSpec{CoverURL: "http://covers/html"}))
	corrupt := NewInjector(&fakeFetcher{data: img[:20]})
	assert.Nil(corrupt.Cover(ctx, btsFLAC, &asset.TagSpec{CoverURL: "http://covers/corrupt.png"}))

	// No fetcher at all
	assert.Nil(NewInjector(nil).Cover(ctx, btsFLAC, &asset.TagSpec{CoverURL: "http://covers/1.png"}))
}

func TestInjector_Wrap_Malformed(t *testing.T) {
	assert := assert_.New(t)
	inj := NewInjector(nil)
	spec := &asset.TagSpec{Tags: map[string]string{"title": "Song"}}

	cases := map[string][]byte{
		"not flac":        []byte("ID3\x04 this is an mp3"),
		"empty":           {},
		"no streaminfo":   encodeFLAC([]block{{4, oldComment}}, audio),
		"truncated block": sampleFLAC()[:30],
		"invalid block":   encodeFLAC([]block{{0, streamInfo}, {127, nil}}, audio),
	}
	for name, data := range cases {
		_, err := io.ReadAll(inj.Wrap(btsFLAC, bytes.NewReader(data), spec, nil))
		var embedErr *TagEmbedError
		if assert.ErrorAs(err, &embedErr, name) {
			assert.Equal(FormatFLAC, embedErr.Format, name)
		}
	}

	_, err := io.ReadAll(inj.Wrap(btsFLAC, bytes.NewReader(sampleFLAC()), &asset.TagSpec{Tags: map[string]string{"bad=key": "x"}}, nil))
	assert.ErrorAs(err, new(*TagEmbedError))
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestInjector_Wrap_UpstreamError(t *testing.T) {
	assert := assert_.New(t)
	inj := NewInjector(nil)
	spec := &asset.TagSpec{}
	upstream := errors.New("connection reset")

	// During metadata
	_, err := io.ReadAll(inj.Wrap(btsFLAC, &failingReader{sampleFLAC()[:20], upstream}, spec, nil))
	assert.Same(upstream, err)
	// During audio
	_, err = io.ReadAll(inj.Wrap(btsFLAC, &failingReader{sampleFLAC(), upstream}, spec, nil))
	assert.Same(upstream, err)
}
