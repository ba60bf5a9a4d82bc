package domain

// Image is the payload handed to AddProduct: either an EncodedImage that is
// stored as-is, or a RawUpload that must be encoded first.
type Image interface {
	isImage()
}

// EncodedImage is a self-contained encoded image (normally a data URL) or a
// plain reference such as "./apple.jpg".
type EncodedImage string

type RawUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (EncodedImage) isImage() {}
func (RawUpload) isImage()    {}
