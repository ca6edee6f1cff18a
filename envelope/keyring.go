package envelope

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
)

// Keyring maps room codes to room keys and persists them to a local JSON file readable by the owner only.
type Keyring struct {
	path string
	mu   sync.Mutex
	keys map[string]Key
}

type keyringFile struct {
	Rooms map[string]string `json:"rooms"`
}

// OpenKeyring loads the keyring stored at path. A missing file yields an empty keyring.
func OpenKeyring(path string) (*Keyring, error) {
	kr := &Keyring{path: path, keys: make(map[string]Key)}
	raw, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return kr, nil
	}
	if err != nil {
		return nil, err
	}
	var f keyringFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	for code, s := range f.Rooms {
		k, err := ParseKey(s)
		if err != nil {
			return nil, err
		}
		kr.keys[code] = k
	}
	return kr, nil
}

func (kr *Keyring) Get(roomCode string) (*Key, bool) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	k, ok := kr.keys[roomCode]
	if !ok {
		return nil, false
	}
	return &k, true
}

// Set stores the key for roomCode and writes the keyring file.
func (kr *Keyring) Set(roomCode string, key Key) error {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.keys[roomCode] = key
	return kr.save()
}

// GetOrCreate returns the key of roomCode, generating and persisting one on first use.
func (kr *Keyring) GetOrCreate(roomCode string) (Key, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if k, ok := kr.keys[roomCode]; ok {
		return k, nil
	}
	k, err := GenerateKey()
	if err != nil {
		return k, err
	}
	kr.keys[roomCode] = k
	return k, kr.save()
}

func (kr *Keyring) save() error {
	if kr.path == "" {
		return nil
	}
	f := keyringFile{Rooms: make(map[string]string, len(kr.keys))}
	for code, k := range kr.keys {
		f.Rooms[code] = k.String()
	}
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(kr.path), 0700); err != nil {
		return err
	}
	tmp := kr.path + ".tmp"
	if err := ioutil.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, kr.path)
}
