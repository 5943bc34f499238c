package roomid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
)

var ErrEmpty = errors.New("room ID cannot be empty")

const wordsPerID = 4

// Generate returns a random memorable room ID such as
// "kitten-waffle-stardust-happy": one word from each of four distinct lists.
func Generate() (string, error) {
	lists := [][]string{animals, dishes, names, randomWords, adjectives, extras}

	words := make([]string, 0, wordsPerID)
	for range wordsPerID {
		i, err := randomIndex(len(lists))
		if err != nil {
			return "", err
		}
		list := lists[i]
		lists = append(lists[:i], lists[i+1:]...)

		j, err := randomIndex(len(list))
		if err != nil {
			return "", err
		}
		words = append(words, list[j])
	}
	return strings.Join(words, "-"), nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("generate room ID: %w", err)
	}
	return int(v.Int64()), nil
}

// Parse accepts a bare room ID or a room link (https://<domain>/r/<id>).
func Parse(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmpty
	}

	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		return fromURL(input)
	}
	return input, nil
}

func fromURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse room link: %w", err)
	}

	parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("could not extract room ID from URL: %s", raw)
}
