package ussd

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

// ErrInvalidInput is returned by a step that rejects the subscriber's input.
// The engine re-prompts the same state without advancing.
var ErrInvalidInput = errors.New("invalid input")

// InputError carries the reason shown above the re-prompt.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string        { return "invalid input: " + e.Reason }
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(reason string) error { return &InputError{Reason: reason} }

var validate = validator.New()

// Pagination and navigation inputs, checked before a list selection is parsed.
const (
	inputNext     = "0"
	inputPrevious = "00"
	inputBack     = "99"
)

func parseChoice(in string, n int) (int, error) {
	if in == "" || !isDigits(in) {
		return 0, invalid("Please select an option.")
	}
	i, err := strconv.Atoi(in)
	if err != nil || i < 1 || i > n {
		return 0, invalid("Please select a valid option.")
	}
	return i - 1, nil
}

func parseQuantity(in string, max int) (int, error) {
	if !isDigits(in) {
		return 0, invalid("Enter a number.")
	}
	q, err := strconv.Atoi(in)
	if err != nil || q < 1 || q > max {
		return 0, invalid("Enter a quantity from 1 to " + strconv.Itoa(max) + ".")
	}
	return q, nil
}

// NormalizePhone accepts 0XXXXXXXXX, 233XXXXXXXXX and +233XXXXXXXXX and
// returns the local ten digit form.
func NormalizePhone(in string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(in))
	p = strings.TrimPrefix(p, "+")
	switch {
	case len(p) == 12 && strings.HasPrefix(p, "233") && isDigits(p):
		p = "0" + p[3:]
	case len(p) == 10 && p[0] == '0' && isDigits(p):
	default:
		return "", invalid("Enter a valid mobile number.")
	}
	return p, nil
}

func parseName(in string) (string, error) {
	name := strings.Join(strings.Fields(in), " ")
	if n := len([]rune(name)); n < 2 || n > 50 {
		return "", invalid("Name must be 2 to 50 characters.")
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && r != ' ' && r != '.' && r != '-' && r != '\'' {
			return "", invalid("Name may only contain letters.")
		}
	}
	return name, nil
}

func parseEmail(in string) (string, error) {
	email := strings.TrimSpace(in)
	if err := validate.Var(email, "required,email"); err != nil {
		return "", invalid("Enter a valid email address.")
	}
	return strings.ToLower(email), nil
}

func parseAccount(in string) (string, error) {
	acc := strings.TrimSpace(in)
	if len(acc) < 4 || len(acc) > 20 {
		return "", invalid("Enter a valid account number.")
	}
	for _, r := range acc {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' {
			return "", invalid("Enter a valid account number.")
		}
	}
	return acc, nil
}

// parseMoney reads a major-unit amount with at most two decimal places and
// bounds it to (0, max].
func parseMoney(in string, max int64) (int64, error) {
	amount, err := domain.ParseAmount(strings.TrimSpace(in))
	if errors.Is(err, domain.ErrTooPrecise) {
		return 0, invalid("Use at most 2 decimal places.")
	}
	if err != nil {
		return 0, invalid("Enter a valid amount.")
	}
	if amount <= 0 || amount > max {
		return 0, invalid("Enter an amount up to " + domain.FormatAmount(max) + ".")
	}
	return amount, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
