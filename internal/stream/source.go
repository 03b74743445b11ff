package stream

import "vico_home/actorcast/internal/domain"

// Source is a fixed set of tracks under one id.
type Source struct {
	id     string
	tracks []domain.Track
}

// NewSource groups tracks into a media source.
func NewSource(id string, tracks ...domain.Track) *Source {
	return &Source{id: id, tracks: tracks}
}

func (s *Source) ID() string { return s.id }

func (s *Source) Tracks() []domain.Track { return s.tracks }

// Empty reports whether src is nil or carries no tracks.
func Empty(src domain.MediaSource) bool {
	return src == nil || len(src.Tracks()) == 0
}
