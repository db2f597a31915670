package database

import (
	"github.com/google/uuid"
)

func generateID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// assignIDs fills in missing ids for the character and its children and points every
// child at the character. Positions follow slice order.
func assignIDs(character *Character) error {
	if character.ID == "" {
		id, err := generateID()
		if err != nil {
			return err
		}
		character.ID = id
	}
	if err := prepareColors(character.ID, character.Colors); err != nil {
		return err
	}
	return prepareImages(character.ID, character.Images)
}

func prepareColors(characterID string, colors []Color) error {
	for i := range colors {
		if colors[i].ID == "" {
			id, err := generateID()
			if err != nil {
				return err
			}
			colors[i].ID = id
		}
		colors[i].CharacterID = characterID
		colors[i].Position = i
	}
	return nil
}

func prepareImages(characterID string, images []Image) error {
	for i := range images {
		if images[i].ID == "" {
			id, err := generateID()
			if err != nil {
				return err
			}
			images[i].ID = id
		}
		images[i].CharacterID = characterID
		images[i].Position = i
	}
	return nil
}
