package resolver

import (
	"fmt"

	"github.com/sells-group/client-linker/internal/model"
)

// MatchByEmail compares the transcript's external participant emails
// against every known client email for the owner. Owner-domain addresses
// are excluded first so internal staff on the call never count as a
// client signal. The first exact match wins; no match returns nil.
func MatchByEmail(t *model.Transcript, ownerDomain string, clients []model.Client) *model.MatchResult {
	for _, email := range t.ExternalParticipants(ownerDomain) {
		for i := range clients {
			if clients[i].HasEmail(email) {
				return model.SingleMatch(&clients[i], 1.0,
					fmt.Sprintf("participant email %s matches client record", email))
			}
		}
	}
	return nil
}
