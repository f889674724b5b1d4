package project

import (
	"strings"
	"time"
)

const AutosaveKey = "autosave"

// AutosaveRecord is the metadata.autosave block stamped on autosaved documents.
type AutosaveRecord struct {
	SavedAt    time.Time
	Reason     string
	AppVersion string
	SourcePath string
	Slot       string
	SessionID  string
}

func (r AutosaveRecord) toMap(existing map[string]any) map[string]any {
	out := map[string]any{}
	for key, value := range existing {
		out[key] = CloneValue(value)
	}
	out["savedAt"] = r.SavedAt.UTC().Format(time.RFC3339Nano)
	out["reason"] = r.Reason
	if r.AppVersion != "" {
		out["appVersion"] = r.AppVersion
	}
	if r.SourcePath != "" {
		out["sourcePath"] = r.SourcePath
	}
	if r.Slot != "" {
		out["slot"] = r.Slot
	}
	if r.SessionID != "" {
		out["sessionId"] = r.SessionID
	}
	return out
}

// Autosave reads metadata.autosave. Fields with unexpected types are ignored.
func (p *Project) Autosave() (AutosaveRecord, bool) {
	if p == nil || p.Metadata == nil {
		return AutosaveRecord{}, false
	}
	raw, ok := p.Metadata[AutosaveKey].(map[string]any)
	if !ok {
		return AutosaveRecord{}, false
	}
	record := AutosaveRecord{
		Reason:     stringField(raw, "reason"),
		AppVersion: stringField(raw, "appVersion"),
		SourcePath: stringField(raw, "sourcePath"),
		Slot:       stringField(raw, "slot"),
		SessionID:  stringField(raw, "sessionId"),
	}
	if savedAt := stringField(raw, "savedAt"); savedAt != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
			record.SavedAt = parsed
		}
	}
	return record, true
}

// WithAutosave returns a clone carrying the record, merged over any existing
// autosave block.
func (p *Project) WithAutosave(record AutosaveRecord) *Project {
	cloned := p.Clone()
	existing, _ := cloned.Metadata[AutosaveKey].(map[string]any)
	cloned.Metadata[AutosaveKey] = record.toMap(existing)
	return cloned
}

// StripAutosave returns a clone without metadata.autosave.
func (p *Project) StripAutosave() *Project {
	cloned := p.Clone()
	if cloned == nil {
		return nil
	}
	delete(cloned.Metadata, AutosaveKey)
	return cloned
}

func stringField(raw map[string]any, key string) string {
	value, ok := raw[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
