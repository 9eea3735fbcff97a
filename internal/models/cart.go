package models

// CartItem позиция корзины. Цена задаётся десятичной строкой с не более чем двумя
// знаками после точки.
type CartItem struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Price    string `json:"price" validate:"required,numeric"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

// Cart упорядоченный список позиций.
type Cart struct {
	Items []CartItem `json:"items"`
}
