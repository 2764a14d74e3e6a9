package ingest

import (
	"voicecore/internal/embedding"
	"voicecore/internal/model"
	"voicecore/internal/monologue"
)

// MonologueAdapter satisfies the MonologueChecker collaborator
// interface by pairing the embedding extractor the fast-path check
// needs to sample the opening of a file with the gate decision itself
// (monologue.Gate), so the orchestrator core only ever depends on the
// narrow interface.
type MonologueAdapter struct {
	Extractor *embedding.Extractor
	Gate      monologue.Gate
}

func (m MonologueAdapter) Check(audioPath string, primary *model.VoiceProfile) (bool, float64) {
	return m.Gate.Check(m.Extractor, audioPath, primary)
}
