package types

import (
	"fmt"
	"time"
)

// MediaKind names the variant of a Media value
type MediaKind string

const (
	KindVideo    MediaKind = "video"
	KindAudio    MediaKind = "audio"
	KindDocument MediaKind = "document"
	KindImage    MediaKind = "image"
	KindVoice    MediaKind = "voice"
	KindOther    MediaKind = "other"
)

// ParseMediaKind maps a wire kind onto a MediaKind
func ParseMediaKind(s string) (MediaKind, error) {
	switch k := MediaKind(s); k {
	case KindVideo, KindAudio, KindDocument, KindImage, KindVoice, KindOther:
		return k, nil
	case "":
		return KindOther, nil
	default:
		return "", fmt.Errorf("unknown media kind %q", s)
	}
}

// Media is a closed set of media variants. Only types in this package
// implement it.
type Media interface {
	Kind() MediaKind
	sealed()
}

type Video struct {
	Duration time.Duration
	Width    int
	Height   int
}

type Audio struct {
	Duration  time.Duration
	Performer string
	Title     string
}

type Document struct{}

type Image struct {
	Width  int
	Height int
}

type Voice struct {
	Duration time.Duration
}

type Other struct{}

func (Video) Kind() MediaKind    { return KindVideo }
func (Audio) Kind() MediaKind    { return KindAudio }
func (Document) Kind() MediaKind { return KindDocument }
func (Image) Kind() MediaKind    { return KindImage }
func (Voice) Kind() MediaKind    { return KindVoice }
func (Other) Kind() MediaKind    { return KindOther }

func (Video) sealed()    {}
func (Audio) sealed()    {}
func (Document) sealed() {}
func (Image) sealed()    {}
func (Voice) sealed()    {}
func (Other) sealed()    {}

// MediaFromRemote builds the Media variant for a remote payload
func MediaFromRemote(rm *RemoteMedia) Media {
	switch rm.Kind {
	case KindVideo:
		return Video{Duration: rm.Duration, Width: rm.Width, Height: rm.Height}
	case KindAudio:
		return Audio{Duration: rm.Duration, Performer: rm.Performer, Title: rm.Title}
	case KindDocument:
		return Document{}
	case KindImage:
		return Image{Width: rm.Width, Height: rm.Height}
	case KindVoice:
		return Voice{Duration: rm.Duration}
	default:
		return Other{}
	}
}
