package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type ConsultationModes struct {
	Chat  bool `json:"chat"`
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

func (m ConsultationModes) Offers(modality Modality) bool {
	switch modality {
	case ModalityChat:
		return m.Chat
	case ModalityAudio:
		return m.Audio
	case ModalityVideo:
		return m.Video
	default:
		return false
	}
}

type ConsultationRates struct {
	Chat  Amount `json:"chat"`
	Audio Amount `json:"audio"`
	Video Amount `json:"video"`
}

func (r ConsultationRates) For(modality Modality) Amount {
	switch modality {
	case ModalityChat:
		return r.Chat
	case ModalityAudio:
		return r.Audio
	case ModalityVideo:
		return r.Video
	default:
		return 0
	}
}

type Provider struct {
	UserID            int64             `json:"user_id"`
	FullName          string            `json:"full_name"`
	Modes             ConsultationModes `json:"consultation_modes"`
	Rates             ConsultationRates `json:"rates"`
	RatingAverage     float64           `json:"rating_average"`
	RatingCount       int               `json:"rating_count"`
	ServiceCategories []CategoryRef     `json:"service_categories"`
}

// CategoryRef is either a reference to a category row or a free-text category name.
type CategoryRef struct {
	ID   *int64  `json:"id,omitempty"`
	Name *string `json:"name,omitempty"`
}

func CategoryReference(id int64) CategoryRef {
	return CategoryRef{ID: &id}
}

func CategoryLiteral(name string) CategoryRef {
	return CategoryRef{Name: &name}
}

func (c CategoryRef) IsReference() bool {
	return c.ID != nil
}

// UnmarshalJSON accepts the tagged form as well as bare ids and bare names.
func (c *CategoryRef) UnmarshalJSON(data []byte) error {
	var tagged struct {
		ID   *int64  `json:"id"`
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(data, &tagged); err == nil && (tagged.ID != nil || tagged.Name != nil) {
		if tagged.ID != nil && tagged.Name != nil {
			return fmt.Errorf("category ref must be either id or name")
		}
		c.ID, c.Name = tagged.ID, tagged.Name
		return nil
	}

	var number json.Number
	if err := json.Unmarshal(data, &number); err == nil {
		id, err := strconv.ParseInt(number.String(), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid category id %s", number)
		}
		*c = CategoryReference(id)
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("invalid category ref %s", string(data))
	}
	*c = CategoryLiteral(name)
	return nil
}
