package relay

import (
	"errors"
	"strings"

	"github.com/mudscribe/mudscribe/pkg/config"
)

var (
	ErrTokenRequired       = errors.New("API token is required")
	ErrMudURLRequired      = errors.New("MUD URL is required")
	ErrCredentialsRequired = errors.New("Username and password are required")
	ErrAlreadyConnected    = errors.New("already connected")
)

// Login is what a connect attempt needs.
type Login struct {
	Token    string
	MudURL   string
	Username string
	Password string
}

func LoginFromConfig(cfg *config.Config) Login {
	return Login{
		Token:    cfg.Gateway.Token,
		MudURL:   cfg.Game.MudURL,
		Username: cfg.Game.Username,
		Password: cfg.Game.Password,
	}
}

// Validate checks fields in form order and reports the first problem.
// Offline play needs only the token.
func (l Login) Validate(offline bool) error {
	if strings.TrimSpace(l.Token) == "" {
		return ErrTokenRequired
	}
	if offline {
		return nil
	}
	if strings.TrimSpace(l.MudURL) == "" {
		return ErrMudURLRequired
	}
	if l.Username == "" || l.Password == "" {
		return ErrCredentialsRequired
	}
	return nil
}

// OfflineScene is fed to the dispatcher when playing without a game server.
const OfflineScene = "You find yourself standing upon the familiar, improbable landscape of the Discworld, resting atop four elephants, " +
	"themselves perched on the great shell of Great A'Tuin, the cosmic turtle. But something is amiss: the colors seem faded, " +
	"sounds muffled, and the air tinged with the subtle scent of L-Space after a particularly long shelving session. " +
	"Landmarks blur at the edges, and even the city of Ankh-Morpork looms only as a distant suggestion through the fog. " +
	"For now, the details elude you, as if the Disc itself is awaiting the return of outside inspiration. " +
	"Adventure is still possible, but with the world shrouded in the peculiar stillness that only comes when the Clacks are down."
