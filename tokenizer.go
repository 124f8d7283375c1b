package lstmgo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Vocabulary maps the symbols of the encoded songs (pitches, rests, holds, song
// delimiters) to class indices.
type Vocabulary struct {
	symbolToID map[string]int32
	idToSymbol []string
}

// LoadVocabulary reads a JSON object of symbol -> index. Indices must be a permutation of 0..n-1.
func LoadVocabulary(filename string) (Vocabulary, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("failed to open mapping: %w", err)
	}
	defer f.Close()
	var mapping map[string]int32
	if err := json.NewDecoder(f).Decode(&mapping); err != nil {
		return Vocabulary{}, fmt.Errorf("failed to decode mapping: %w", err)
	}
	return NewVocabulary(mapping)
}

func NewVocabulary(mapping map[string]int32) (Vocabulary, error) {
	vocab := Vocabulary{
		symbolToID: make(map[string]int32, len(mapping)),
		idToSymbol: make([]string, len(mapping)),
	}
	seen := make([]bool, len(mapping))
	for symbol, id := range mapping {
		if id < 0 || int(id) >= len(mapping) {
			return Vocabulary{}, fmt.Errorf("symbol %q has index %d outside 0..%d", symbol, id, len(mapping)-1)
		}
		if seen[id] {
			return Vocabulary{}, fmt.Errorf("index %d assigned to more than one symbol", id)
		}
		seen[id] = true
		vocab.symbolToID[symbol] = id
		vocab.idToSymbol[id] = symbol
	}
	return vocab, nil
}

func (v Vocabulary) Size() int {
	return len(v.idToSymbol)
}

// Encode splits text on whitespace and maps every symbol to its index.
func (v Vocabulary) Encode(text string) ([]int32, error) {
	fields := strings.Fields(text)
	tokens := make([]int32, 0, len(fields))
	for _, symbol := range fields {
		id, ok := v.symbolToID[symbol]
		if !ok {
			return nil, fmt.Errorf("symbol %q not in vocabulary", symbol)
		}
		tokens = append(tokens, id)
	}
	return tokens, nil
}

func (v Vocabulary) Decode(tokens []int32) (string, error) {
	symbols := make([]string, len(tokens))
	for i, token := range tokens {
		if token < 0 || int(token) >= len(v.idToSymbol) {
			return "", errors.New("not valid token")
		}
		symbols[i] = v.idToSymbol[token]
	}
	return strings.Join(symbols, " "), nil
}
