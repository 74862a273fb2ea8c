package service

import (
	"encoding/json"
	"fmt"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/repository"
)

func entriesFromSettings(list []repository.Setting) ([]core.Entry, error) {
	entries := make([]core.Entry, 0, len(list))
	for _, setting := range list {
		entry, err := settingToEntry(setting)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func settingToEntry(setting repository.Setting) (core.Entry, error) {
	entry := core.Entry{
		Setting: setting.Setting,
		Labels:  append([]string(nil), setting.Labels...),
	}

	if len(setting.Value) > 0 {
		if err := json.Unmarshal(setting.Value, &entry.Value); err != nil {
			return core.Entry{}, fmt.Errorf("%w: setting %q value: %v", ErrInvalidEntry, setting.Setting, err)
		}
	}

	if len(setting.Except) > 0 {
		if err := json.Unmarshal(setting.Except, &entry.Except); err != nil {
			return core.Entry{}, fmt.Errorf("%w: setting %q except: %v", ErrInvalidEntry, setting.Setting, err)
		}
	}

	return entry, nil
}

// SettingsFromEntries converts decoded entries into storable settings,
// numbering positions in list order.
func SettingsFromEntries(namespaceID string, entries []core.Entry) ([]repository.Setting, error) {
	list := make([]repository.Setting, 0, len(entries))
	for position, entry := range entries {
		value, err := json.Marshal(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: setting %q value: %v", ErrInvalidEntry, entry.Setting, err)
		}

		except := json.RawMessage(`[]`)
		if len(entry.Except) > 0 {
			except, err = json.Marshal(entry.Except)
			if err != nil {
				return nil, fmt.Errorf("%w: setting %q except: %v", ErrInvalidEntry, entry.Setting, err)
			}
		}

		list = append(list, repository.Setting{
			NamespaceID: namespaceID,
			Setting:     entry.Setting,
			Position:    position,
			Value:       value,
			Except:      except,
			Labels:      entry.Labels,
		})
	}
	return list, nil
}
