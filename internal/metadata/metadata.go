// Package metadata renders position tokens as self-contained data URIs.
package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"vote-escrow/internal/amount"
	"vote-escrow/internal/escrow"
)

// ErrTokenNotFound is returned for ids that were never minted or were burned.
var ErrTokenNotFound = errors.New("metadata: token does not exist")

const (
	jsonPrefix = "data:application/json;base64,"
	svgPrefix  = "data:image/svg+xml;base64,"
)

// View is everything shown on a token.
type View struct {
	ID        uint64
	Balance   *big.Int
	LockedEnd int64
	Value     *big.Int
	Decimals  int32
	Symbol    string
}

// Source is the escrow surface metadata reads from.
type Source interface {
	Position(ctx context.Context, id uint64) (escrow.Position, bool, error)
	CurrentBalance(ctx context.Context, id uint64) (*big.Int, error)
}

type document struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// TokenURI loads id from src and renders it.
func TokenURI(ctx context.Context, src Source, id uint64, decimals int32, symbol string) (string, error) {
	pos, ok, err := src.Position(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load position: %w", err)
	}
	if !ok || pos.Owner == (common.Address{}) {
		return "", ErrTokenNotFound
	}
	balance, err := src.CurrentBalance(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load balance: %w", err)
	}
	return Render(View{
		ID:        id,
		Balance:   balance,
		LockedEnd: pos.End,
		Value:     pos.Amount,
		Decimals:  decimals,
		Symbol:    symbol,
	})
}

// Render produces a data:application/json URI whose image is an SVG card.
func Render(v View) (string, error) {
	doc := document{
		Name:        fmt.Sprintf("lock #%d", v.ID),
		Description: "Vote-escrowed position: locked deposit with linearly decaying voting weight.",
		Image:       svgPrefix + base64.StdEncoding.EncodeToString([]byte(svg(v))),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal token document: %w", err)
	}
	return jsonPrefix + base64.StdEncoding.EncodeToString(body), nil
}

func svg(v View) string {
	lines := []string{
		fmt.Sprintf("token %d", v.ID),
		fmt.Sprintf("balanceOf %s", amount.FormatFixed(v.Balance, v.Decimals, 4)),
		fmt.Sprintf("locked_end %s", time.Unix(v.LockedEnd, 0).UTC().Format(time.RFC3339)),
		fmt.Sprintf("value %s %s", amount.FormatFixed(v.Value, v.Decimals, 4), v.Symbol),
	}

	b := strings.Builder{}
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" preserveAspectRatio="xMinYMin meet" viewBox="0 0 350 350">`)
	b.WriteString(`<style>.base { fill: white; font-family: serif; font-size: 14px; }</style>`)
	b.WriteString(`<rect width="100%" height="100%" fill="black" />`)
	for i, line := range lines {
		b.WriteString(fmt.Sprintf(`<text x="10" y="%d" class="base">%s</text>`, 20*(i+1), html.EscapeString(line)))
	}
	b.WriteString(`</svg>`)
	return b.String()
}

// Decode reverses Render's outer encoding and returns the embedded SVG.
func Decode(uri string) (name, image string, err error) {
	raw, ok := strings.CutPrefix(uri, jsonPrefix)
	if !ok {
		return "", "", errors.New("metadata: not a json data uri")
	}
	body, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", "", fmt.Errorf("decode token document: %w", err)
	}
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", "", fmt.Errorf("unmarshal token document: %w", err)
	}
	img, ok := strings.CutPrefix(doc.Image, svgPrefix)
	if !ok {
		return "", "", errors.New("metadata: image is not an svg data uri")
	}
	svgBytes, err := base64.StdEncoding.DecodeString(img)
	if err != nil {
		return "", "", fmt.Errorf("decode token image: %w", err)
	}
	return doc.Name, string(svgBytes), nil
}
