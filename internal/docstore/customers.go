package docstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mmeshcher/water-kiosk/internal/model"
)

// CustomerSource ищет абонентов в коллекции документного хранилища.
type CustomerSource struct {
	client     *Client
	collection string
}

// NewCustomerSource создаёт источник абонентов поверх коллекции collection.
func NewCustomerSource(client *Client, collection string) *CustomerSource {
	return &CustomerSource{
		client:     client,
		collection: collection,
	}
}

// FindCustomer возвращает абонента с точно совпадающим номером телефона.
func (s *CustomerSource) FindCustomer(ctx context.Context, phone string) (*model.Customer, bool, error) {
	list, err := s.client.ListDocuments(ctx, s.collection, []string{
		Equal("phone_number", phone),
		Limit(1),
	})
	if err != nil {
		return nil, false, fmt.Errorf("find customer: %w", err)
	}
	if len(list.Documents) == 0 {
		return nil, false, nil
	}
	return documentToCustomer(list.Documents[0]), true, nil
}

// Ping проверяет доступность хранилища.
func (s *CustomerSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// documentToCustomer разбирает документ абонента. Флаги считаются установленными
// только при булевом значении true.
func documentToCustomer(doc Document) *model.Customer {
	return &model.Customer{
		PhoneNumber:        stringField(doc, "phone_number"),
		PIN:                stringField(doc, "pin"),
		IsRegistered:       boolField(doc, "is_registered"),
		SubscriptionActive: boolField(doc, "active"),
		FullName:           stringField(doc, "full_name"),
		AccountID:          stringField(doc, "account_id"),
		Plan:               stringField(doc, "plan"),
		Credits:            floatField(doc, "credits"),
	}
}

func stringField(doc Document, name string) string {
	switch v := doc[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func boolField(doc Document, name string) bool {
	v, ok := doc[name].(bool)
	return ok && v
}

func floatField(doc Document, name string) float64 {
	v, _ := doc[name].(float64)
	return v
}
