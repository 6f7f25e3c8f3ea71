package alsa

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SoundCardDevice represents a playback PCM device on a sound card.
type SoundCardDevice struct {
	ID          int
	Name        string
	Description string
	Subdevices  int
}

// String returns a human-readable representation of the SoundCardDevice.
func (d SoundCardDevice) String() string {
	return fmt.Sprintf("  Device %d: %s (%s) [%d subdevices]", d.ID, d.Name, d.Description, d.Subdevices)
}

// SoundCard represents an enumerated sound card with its playback devices.
type SoundCard struct {
	ID          int
	Name        string
	Driver      string
	Description string
	Devices     []SoundCardDevice
}

// String returns a human-readable representation of the SoundCard.
func (c SoundCard) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Card %d: %s [%s] (%s)\n", c.ID, c.Name, c.Driver, c.Description))
	for _, dev := range c.Devices {
		sb.WriteString(dev.String() + "\n")
	}

	return sb.String()
}

// IsUSB reports whether the card is driven by snd-usb-audio.
func (c SoundCard) IsUSB() bool {
	return strings.Contains(c.Driver, "USB") || strings.Contains(c.Description, "USB")
}

// procAsound is where the kernel publishes the card list.
var procAsound = "/proc/asound"

// EnumerateCards scans /proc/asound to find all sound cards and their playback devices.
func EnumerateCards() ([]SoundCard, error) {
	cardsFile := procAsound + "/cards"
	cardsContent, err := os.ReadFile(cardsFile)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", cardsFile, err)
	}

	pcmFile := procAsound + "/pcm"
	pcmContent, err := os.ReadFile(pcmFile)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not read %s: %w", pcmFile, err)
	}

	return parseCards(string(cardsContent), string(pcmContent)), nil
}

var (
	// Lines like " 1 [Device         ]: USB-Audio - USB Audio Device"
	cardRegex = regexp.MustCompile(`^\s*(\d+)\s+\[\s*([^]]*?)\s*\]:\s*(.*?)\s+-\s+(.*)`)
	// Lines like "02-00: Loopback PCM : Loopback PCM : playback 8 : capture 8"
	pcmRegex = regexp.MustCompile(`^(\d+)-(\d+): (.*?) :.*`)
	// The playback part of a pcm line.
	playbackRegex = regexp.MustCompile(`playback (\d+)`)
)

func parseCards(cards, pcm string) []SoundCard {
	cardMap := make(map[int]*SoundCard)

	for _, line := range strings.Split(cards, "\n") {
		matches := cardRegex.FindStringSubmatch(line)
		if len(matches) != 5 {
			continue
		}

		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		cardMap[id] = &SoundCard{
			ID:          id,
			Name:        strings.TrimSpace(matches[2]),
			Driver:      strings.TrimSpace(matches[3]),
			Description: strings.TrimSpace(matches[4]),
		}
	}

	for _, line := range strings.Split(pcm, "\n") {
		matches := pcmRegex.FindStringSubmatch(line)
		if len(matches) < 4 {
			continue
		}

		cardID, _ := strconv.Atoi(matches[1])
		devID, _ := strconv.Atoi(matches[2])

		card, ok := cardMap[cardID]
		if !ok {
			continue
		}

		playback := playbackRegex.FindStringSubmatch(line)
		if playback == nil {
			continue
		}

		subdevices, _ := strconv.Atoi(playback[1])

		card.Devices = append(card.Devices, SoundCardDevice{
			ID:          devID,
			Name:        fmt.Sprintf("pcm%dp", devID),
			Description: strings.TrimSpace(matches[3]),
			Subdevices:  subdevices,
		})
	}

	ids := make([]int, 0, len(cardMap))
	for id := range cardMap {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	result := make([]SoundCard, 0, len(ids))
	for _, id := range ids {
		result = append(result, *cardMap[id])
	}

	return result
}

// FindUSBCard returns the first USB audio card that has a playback device.
func FindUSBCard() (SoundCard, error) {
	cards, err := EnumerateCards()
	if err != nil {
		return SoundCard{}, err
	}

	for _, c := range cards {
		if c.IsUSB() && len(c.Devices) > 0 {
			return c, nil
		}
	}

	return SoundCard{}, fmt.Errorf("no USB audio card with a playback device found")
}
