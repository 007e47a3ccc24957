package vm

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Image: serialized compiled scripts (.loxc)
// ---------------------------------------------------------------------------

// ImageMagic identifies a colox image.
const ImageMagic = "LOXC"

// ImageVersion is the current image format version.
const ImageVersion = 1

// ErrBadImage wraps every structural problem found while decoding an image.
var ErrBadImage = errors.New("invalid image")

// Image is a compiled top-level script together with its build metadata.
type Image struct {
	BuildID uuid.UUID
	Source  string // name of the source the script was compiled from
	Created time.Time
	Script  *ObjFunction
}

// NewImage wraps a compiled script with a fresh build identity.
func NewImage(script *ObjFunction, source string) *Image {
	return &Image{
		BuildID: uuid.New(),
		Source:  source,
		Created: time.Now().UTC().Truncate(time.Second),
		Script:  script,
	}
}

// Functions returns the script and every nested function, depth first.
func (img *Image) Functions() []*ObjFunction {
	var out []*ObjFunction
	var walk func(fn *ObjFunction)
	walk = func(fn *ObjFunction) {
		out = append(out, fn)
		for _, k := range fn.Chunk.Constants {
			if nested, ok := k.(*ObjFunction); ok {
				walk(nested)
			}
		}
	}
	if img.Script != nil {
		walk(img.Script)
	}
	return out
}

// Constant kinds in the wire format.
const (
	constNil uint8 = iota
	constBool
	constNumber
	constString
	constFunction
)

type imageFile struct {
	Magic     string          `cbor:"1,keyasint"`
	Version   int             `cbor:"2,keyasint"`
	BuildID   [16]byte        `cbor:"3,keyasint"`
	Source    string          `cbor:"4,keyasint,omitempty"`
	Created   int64           `cbor:"5,keyasint"`
	Functions []imageFunction `cbor:"6,keyasint"` // [0] is the script
}

type imageFunction struct {
	Name         string          `cbor:"1,keyasint,omitempty"`
	Named        bool            `cbor:"2,keyasint,omitempty"`
	Arity        int             `cbor:"3,keyasint"`
	UpvalueCount int             `cbor:"4,keyasint"`
	Code         []byte          `cbor:"5,keyasint"`
	Lines        []int           `cbor:"6,keyasint"`
	Constants    []imageConstant `cbor:"7,keyasint,omitempty"`
}

type imageConstant struct {
	Kind     uint8   `cbor:"1,keyasint"`
	Bool     bool    `cbor:"2,keyasint,omitempty"`
	Number   float64 `cbor:"3,keyasint,omitempty"`
	String   string  `cbor:"4,keyasint,omitempty"`
	Function int     `cbor:"5,keyasint,omitempty"` // index into Functions
}

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// EncodeImage serializes an image. Encoding is deterministic for a given
// image.
func EncodeImage(img *Image) ([]byte, error) {
	if img.Script == nil {
		return nil, fmt.Errorf("encode image: %w: no script", ErrBadImage)
	}

	fns := img.Functions()
	index := make(map[*ObjFunction]int, len(fns))
	for i, fn := range fns {
		index[fn] = i
	}

	file := imageFile{
		Magic:     ImageMagic,
		Version:   ImageVersion,
		BuildID:   img.BuildID,
		Source:    img.Source,
		Created:   img.Created.Unix(),
		Functions: make([]imageFunction, len(fns)),
	}
	for i, fn := range fns {
		out := imageFunction{
			Arity:        fn.Arity,
			UpvalueCount: fn.UpvalueCount,
			Code:         fn.Chunk.Code,
			Lines:        fn.Chunk.Lines,
		}
		if fn.Name != nil {
			out.Name = fn.Name.Chars
			out.Named = true
		}
		for _, k := range fn.Chunk.Constants {
			c, err := encodeConstant(k, index)
			if err != nil {
				return nil, fmt.Errorf("encode image: function %q: %w", fn.DisplayName(), err)
			}
			out.Constants = append(out.Constants, c)
		}
		file.Functions[i] = out
	}
	return imageEncMode.Marshal(&file)
}

func encodeConstant(v Value, index map[*ObjFunction]int) (imageConstant, error) {
	switch v := v.(type) {
	case NilValue:
		return imageConstant{Kind: constNil}, nil
	case Bool:
		return imageConstant{Kind: constBool, Bool: bool(v)}, nil
	case Number:
		return imageConstant{Kind: constNumber, Number: float64(v)}, nil
	case *ObjString:
		return imageConstant{Kind: constString, String: v.Chars}, nil
	case *ObjFunction:
		return imageConstant{Kind: constFunction, Function: index[v]}, nil
	default:
		return imageConstant{}, fmt.Errorf("%w: constant of type %s", ErrBadImage, TypeName(v))
	}
}

// WriteImage encodes img to w.
func WriteImage(w io.Writer, img *Image) error {
	data, err := EncodeImage(img)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// DecodeImage rebuilds an image, allocating its functions and strings in
// heap. Strings are interned there, so decoded constants compare equal to
// strings the program creates at run time.
func DecodeImage(data []byte, heap *Heap) (*Image, error) {
	var file imageFile
	if err := cbor.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode image: %w: %v", ErrBadImage, err)
	}
	if file.Magic != ImageMagic {
		return nil, fmt.Errorf("decode image: %w: bad magic %q", ErrBadImage, file.Magic)
	}
	if file.Version != ImageVersion {
		return nil, fmt.Errorf("decode image: %w: unsupported version %d", ErrBadImage, file.Version)
	}
	if len(file.Functions) == 0 {
		return nil, fmt.Errorf("decode image: %w: no functions", ErrBadImage)
	}
	// Nothing encloses the script, so it has nothing to capture.
	if file.Functions[0].UpvalueCount != 0 {
		return nil, fmt.Errorf("decode image: %w: script has %d upvalues",
			ErrBadImage, file.Functions[0].UpvalueCount)
	}

	fns := make([]*ObjFunction, len(file.Functions))
	for i := range fns {
		fns[i] = heap.NewFunction()
	}

	for i, in := range file.Functions {
		fn := fns[i]
		if len(in.Code) != len(in.Lines) {
			return nil, fmt.Errorf("decode image: %w: function %d has %d code bytes but %d lines",
				ErrBadImage, i, len(in.Code), len(in.Lines))
		}
		if len(in.Constants) > MaxConstants {
			return nil, fmt.Errorf("decode image: %w: function %d has %d constants",
				ErrBadImage, i, len(in.Constants))
		}
		if in.Arity < 0 || in.Arity > MaxArity || in.UpvalueCount < 0 || in.UpvalueCount > MaxUpvalues {
			return nil, fmt.Errorf("decode image: %w: function %d has arity %d and %d upvalues",
				ErrBadImage, i, in.Arity, in.UpvalueCount)
		}
		fn.Arity = in.Arity
		fn.UpvalueCount = in.UpvalueCount
		if in.Named {
			fn.Name = heap.CopyString(in.Name)
		}
		fn.Chunk.Code = in.Code
		fn.Chunk.Lines = in.Lines

		for _, c := range in.Constants {
			switch c.Kind {
			case constNil:
				fn.Chunk.AddConstant(Nil)
			case constBool:
				fn.Chunk.AddConstant(Bool(c.Bool))
			case constNumber:
				fn.Chunk.AddConstant(Number(c.Number))
			case constString:
				fn.Chunk.AddConstant(heap.CopyString(c.String))
			case constFunction:
				// Functions are stored depth first, so a nested function
				// always follows the function that references it.
				if c.Function <= i || c.Function >= len(fns) {
					return nil, fmt.Errorf("decode image: %w: function %d references function %d",
						ErrBadImage, i, c.Function)
				}
				fn.Chunk.AddConstant(fns[c.Function])
			default:
				return nil, fmt.Errorf("decode image: %w: unknown constant kind %d", ErrBadImage, c.Kind)
			}
		}
	}

	// Validate only once every nested function is populated: CLOSURE's
	// length depends on its function's upvalue count.
	for i, fn := range fns {
		if err := fn.Validate(); err != nil {
			return nil, fmt.Errorf("decode image: %w: function %d: %v", ErrBadImage, i, err)
		}
	}

	return &Image{
		BuildID: uuid.UUID(file.BuildID),
		Source:  file.Source,
		Created: time.Unix(file.Created, 0).UTC(),
		Script:  fns[0],
	}, nil
}

// ReadImage decodes an image read in full from r.
func ReadImage(r io.Reader, heap *Heap) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return DecodeImage(data, heap)
}
