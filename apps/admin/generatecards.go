package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/user"
)

var errNotAStudent = errors.New("student not found")

func (cli *commandLine) generateCards(count int, studentID string) error {
	ctx := context.Background()
	if studentID != "" {
		usr, err := cli.usrSvc.GetByID(ctx, studentID)
		if err != nil && errors.Cause(err) != user.ErrNotFound {
			return err
		}
		if err != nil || !usr.IsStudent() {
			return errNotAStudent
		}
	}

	cards, err := cli.cardSvc.Generate(ctx, count, core.Now(), studentID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PIN\tUSES\tEXPIRES")
	for _, card := range cards {
		fmt.Fprintf(w, "%s\t%d\t%s\n", card.Pin, card.UsageLimit, card.ExpiresAt().Format(time.RFC3339))
	}
	return w.Flush()
}
