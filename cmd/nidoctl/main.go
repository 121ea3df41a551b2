package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nidohq/nido/internal/config"
	"github.com/nidohq/nido/internal/lock"
	"github.com/nidohq/nido/internal/payments"
	"github.com/nidohq/nido/internal/profile"
	"github.com/nidohq/nido/internal/recommend"
	"github.com/nidohq/nido/internal/store"
	"github.com/nidohq/nido/internal/userdata"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// pay only reads config; it must not contend for the profile lock.
	if args[0] == "pay" {
		cmdPay(args[1:], *jsonFlag)
		return
	}

	ud, cleanup := openStore(profileName)
	defer cleanup()

	switch args[0] {
	case "wishlist":
		cmdCollection(ud.ToggleWishlist, ud.Wishlist, "wishlist", args[1:], *jsonFlag)
	case "favorite":
		cmdCollection(ud.ToggleFavorite, ud.Favorites, "favorites", args[1:], *jsonFlag)
	case "msg":
		cmdMsg(ud, args[1:], *jsonFlag)
	case "booking":
		cmdBooking(ud, args[1:], *jsonFlag)
	case "review":
		cmdReview(ud, args[1:], *jsonFlag)
	case "notif":
		cmdNotif(ud, args[1:], *jsonFlag)
	case "recommend":
		cmdRecommend(ud, *jsonFlag)
	case "clear":
		ud.ClearAll()
		fmt.Println("Cleared wishlist, favorites, messages, bookings and reviews. Notifications kept.")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

// openStore acquires the profile lock and hydrates the store. The lock makes
// nidoctl and nidod mutually exclusive writers; run one at a time.
func openStore(profileName string) (*userdata.Store, func()) {
	if err := profile.EnsureDir(profileName); err != nil {
		fatal(err)
	}
	lk, err := lock.Acquire(profile.Dir(profileName))
	if err != nil {
		var held *lock.LockHeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "error: profile %q is in use by PID %d (stop nidod first)\n", profileName, held.PID)
			os.Exit(1)
		}
		fatal(err)
	}
	db, err := store.Open(profile.DBPath(profileName))
	if err != nil {
		_ = lk.Release()
		fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = lk.Release()
		fatal(err)
	}
	ud := userdata.New(db, nil, nil)
	if degraded := ud.Hydrate(); degraded > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d collection(s) could not be loaded and reset to empty\n", degraded)
	}
	return ud, func() {
		ud.Close()
		_ = db.Close()
		_ = lk.Release()
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: nidoctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  wishlist toggle <propertyId>                    Toggle wishlist membership")
	fmt.Fprintln(os.Stderr, "  wishlist list                                   List wishlist")
	fmt.Fprintln(os.Stderr, "  favorite toggle <propertyId>                    Toggle favorite membership")
	fmt.Fprintln(os.Stderr, "  favorite list                                   List favorites")
	fmt.Fprintln(os.Stderr, "  msg send <propertyId> <guest|host> <text>       Append a message")
	fmt.Fprintln(os.Stderr, "  msg list <propertyId>                           Show a thread")
	fmt.Fprintln(os.Stderr, "  booking add-stay <propertyId> <in> <out> <total>")
	fmt.Fprintln(os.Stderr, "  booking add-service <propertyId> <date> <total>")
	fmt.Fprintln(os.Stderr, "  booking list                                    List bookings, newest first")
	fmt.Fprintln(os.Stderr, "  review add <propertyId> <rating> <author> <text>")
	fmt.Fprintln(os.Stderr, "  review list <propertyId>                        List reviews for a property")
	fmt.Fprintln(os.Stderr, "  notif list                                      List notifications")
	fmt.Fprintln(os.Stderr, "  notif read                                      Mark all notifications read")
	fmt.Fprintln(os.Stderr, "  recommend                                       Show engagement ranking")
	fmt.Fprintln(os.Stderr, "  pay <email> <amount>                            Build a checkout request")
	fmt.Fprintln(os.Stderr, "  clear                                           Clear account data, keep notifications")
}

func cmdCollection(toggle func(string) bool, list func() []string, name string, args []string, jsonOut bool) {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "usage: nidoctl %s <toggle|list>\n", name)
		os.Exit(1)
	}
	switch args[0] {
	case "toggle":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "usage: nidoctl %s toggle <propertyId>\n", name)
			os.Exit(1)
		}
		if toggle(args[1]) {
			fmt.Printf("Added %s to %s\n", args[1], name)
		} else {
			fmt.Printf("Removed %s from %s\n", args[1], name)
		}
	case "list":
		ids := list()
		if jsonOut {
			outputJSON(ids)
			return
		}
		if len(ids) == 0 {
			fmt.Printf("No entries in %s.\n", name)
			return
		}
		for _, id := range ids {
			fmt.Println(id)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown %s subcommand: %s\n", name, args[0])
		os.Exit(1)
	}
}

func cmdMsg(ud *userdata.Store, args []string, jsonOut bool) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: nidoctl msg <send|list>")
		os.Exit(1)
	}
	switch args[0] {
	case "send":
		if len(args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: nidoctl msg send <propertyId> <guest|host> <text>")
			os.Exit(1)
		}
		msg, err := ud.SendMessage(args[1], userdata.Sender(args[2]), strings.Join(args[3:], " "))
		if err != nil {
			fatal(err)
		}
		if jsonOut {
			outputJSON(msg)
			return
		}
		fmt.Printf("Sent %s\n", msg.ID)
	case "list":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: nidoctl msg list <propertyId>")
			os.Exit(1)
		}
		thread := ud.Thread(args[1])
		if jsonOut {
			outputJSON(thread)
			return
		}
		if len(thread) == 0 {
			fmt.Println("No messages.")
			return
		}
		for _, m := range thread {
			fmt.Printf("[%s] %s\n", m.From, m.Text)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown msg subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdBooking(ud *userdata.Store, args []string, jsonOut bool) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: nidoctl booking <add-stay|add-service|list>")
		os.Exit(1)
	}
	switch args[0] {
	case "add-stay":
		if len(args) < 5 {
			fmt.Fprintln(os.Stderr, "usage: nidoctl booking add-stay <propertyId> <checkIn> <checkOut> <total>")
			os.Exit(1)
		}
		total := parseFloat(args[4])
		b := userdata.Booking{
			ID:         newBookingID(),
			PropertyID: args[1],
			Kind:       userdata.BookingStay,
			CheckIn:    args[2],
			CheckOut:   args[3],
			Total:      total,
		}
		if err := ud.AddBooking(b); err != nil {
			fatal(err)
		}
		fmt.Printf("Booked %s\n", b.ID)
	case "add-service":
		if len(args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: nidoctl booking add-service <propertyId> <date> <total>")
			os.Exit(1)
		}
		b := userdata.Booking{
			ID:          newBookingID(),
			PropertyID:  args[1],
			Kind:        userdata.BookingService,
			ServiceDate: args[2],
			Units:       1,
			Total:       parseFloat(args[3]),
		}
		if err := ud.AddBooking(b); err != nil {
			fatal(err)
		}
		fmt.Printf("Booked %s\n", b.ID)
	case "list":
		bookings := ud.Bookings()
		if jsonOut {
			outputJSON(bookings)
			return
		}
		if len(bookings) == 0 {
			fmt.Println("No bookings.")
			return
		}
		for _, b := range bookings {
			switch b.Kind {
			case userdata.BookingService:
				fmt.Printf("%-12s %s  service %s  %.2f\n", b.ID, b.PropertyID, b.ServiceDate, b.Total)
			default:
				fmt.Printf("%-12s %s  %s -> %s  %.2f\n", b.ID, b.PropertyID, b.CheckIn, b.CheckOut, b.Total)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown booking subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdReview(ud *userdata.Store, args []string, jsonOut bool) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: nidoctl review <add|list>")
		os.Exit(1)
	}
	switch args[0] {
	case "add":
		if len(args) < 5 {
			fmt.Fprintln(os.Stderr, "usage: nidoctl review add <propertyId> <rating> <author> <text>")
			os.Exit(1)
		}
		rating, err := strconv.Atoi(args[2])
		if err != nil {
			fatal(fmt.Errorf("rating must be a number: %w", err))
		}
		rev, err := ud.AddReview(userdata.ReviewDraft{
			PropertyID: args[1],
			Rating:     rating,
			Author:     args[3],
			Text:       strings.Join(args[4:], " "),
		})
		if err != nil {
			fatal(err)
		}
		if jsonOut {
			outputJSON(rev)
			return
		}
		fmt.Printf("Added review %s\n", rev.ID)
	case "list":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: nidoctl review list <propertyId>")
			os.Exit(1)
		}
		reviews := ud.Reviews(args[1])
		if jsonOut {
			outputJSON(reviews)
			return
		}
		if len(reviews) == 0 {
			fmt.Println("No reviews.")
			return
		}
		for _, r := range reviews {
			fmt.Printf("%d/5 %-16s %s\n", r.Rating, r.Author, r.Text)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown review subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdNotif(ud *userdata.Store, args []string, jsonOut bool) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: nidoctl notif <list|read>")
		os.Exit(1)
	}
	switch args[0] {
	case "list":
		notes := ud.Notifications()
		if jsonOut {
			outputJSON(notes)
			return
		}
		if len(notes) == 0 {
			fmt.Println("No notifications.")
			return
		}
		for _, n := range notes {
			marker := " "
			if !n.Read {
				marker = "*"
			}
			fmt.Printf("%s %-28s %s\n", marker, n.Title, n.Body)
		}
	case "read":
		ud.MarkAllNotificationsRead()
		fmt.Println("All notifications marked read.")
	default:
		fmt.Fprintf(os.Stderr, "unknown notif subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdRecommend(ud *userdata.Store, jsonOut bool) {
	ranking := recommend.Rank(ud.Snapshot())
	if jsonOut {
		outputJSON(ranking)
		return
	}
	if len(ranking) == 0 {
		fmt.Println("No engagement yet.")
		return
	}
	for i, entry := range ranking {
		fmt.Printf("%2d. %-24s score %d\n", i+1, entry.PropertyID, entry.Score)
	}
}

func cmdPay(args []string, jsonOut bool) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: nidoctl pay <email> <amount>")
		os.Exit(1)
	}
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		cfg = &config.Config{}
	}
	config.ApplyEnv(cfg, profile.EnvPath())

	builder := payments.NewBuilder(cfg.Payments.PublicKey, cfg.Payments.Currency)
	req, err := builder.Checkout(args[0], parseFloat(args[1]))
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(req)
		return
	}
	fmt.Printf("Reference: %s\n", req.Reference)
	fmt.Printf("Amount:    %d %s subunits\n", req.Amount, req.Currency)
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fatal(fmt.Errorf("amount must be a number: %w", err))
	}
	return f
}

func newBookingID() string {
	return "bk_" + uuid.NewString()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
