package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"anonfeedback-backend/internal/models"
	"anonfeedback-backend/internal/repository"
	"anonfeedback-backend/internal/routing"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var pages = template.Must(template.New("layout").Funcs(template.FuncMap{
	"millis": func(ms int64) string {
		return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04 MST")
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<title>{{.Title}}</title>
</head>
<body>
	<main style="max-width: 400px; margin: 0 auto; font-family: sans-serif;">
	{{if eq .View "home"}}
		<h1>Anonymous Feedback</h1>
		<p>Request and receive anonymous feedback.</p>
		{{with .Error}}<p style="color: #b91c1c;">{{.}}</p>{{end}}
		<form method="post" action="/">
			<textarea name="prompt" rows="4" placeholder="What would you like feedback on?" required>{{.Prompt}}</textarea>
			<input type="url" name="contentLink" placeholder="Link to content (optional)" value="{{.ContentLink}}">
			<button type="submit">Create Round</button>
		</form>
	{{else if eq .View "created"}}
		<h1>Round created</h1>
		<p>{{.Round.Prompt}}</p>
		<p><a href="{{.FeedbackURL}}">{{.FeedbackURL}}</a></p>
		<p><a href="{{.ShareURL}}" target="_blank" rel="noopener noreferrer">Share</a></p>
	{{else if eq .View "feedback"}}
		<h1>Leave Feedback</h1>
		<p>{{.Round.Prompt}}</p>
		{{with .Round.ContentLink}}<p><a href="{{.}}" target="_blank" rel="noopener noreferrer">View Content</a></p>{{end}}
		<p>Pay {{.Cost}} USDC to leave anonymous feedback.</p>
		<form id="feedback-form" data-round-id="{{.Round.ID}}">
			<textarea name="content" rows="4" placeholder="Your anonymous feedback" required></textarea>
			<input type="text" name="address" placeholder="Wallet address (if no browser wallet)">
			<button type="submit">Pay &amp; Submit</button>
		</form>
		<p id="feedback-status"></p>
		<button id="feedback-retry" type="button" hidden>Retry</button>
		<script>
		(function () {
			var form = document.getElementById("feedback-form");
			var status = document.getElementById("feedback-status");
			var retry = document.getElementById("feedback-retry");
			var roundId = form.dataset.roundId;
			var token = "";

			function say(msg) { status.textContent = msg; }

			function api(method, path, body) {
				var opts = {method: method, headers: {"Content-Type": "application/json"}};
				if (token) { opts.headers["Authorization"] = "Bearer " + token; }
				if (body) { opts.body = JSON.stringify(body); }
				return fetch(path, opts).then(function (res) {
					return res.json().then(function (data) {
						if (!res.ok) { throw new Error(data.error || res.statusText); }
						return data;
					});
				});
			}

			function connect() {
				var eth = window.ethereum;
				if (!eth) {
					return api("POST", "/api/attempts/me/wallet", {connector: "frame", address: form.address.value.trim()});
				}
				var account;
				return eth.request({method: "eth_requestAccounts"}).then(function (accounts) {
					account = accounts[0];
					return api("GET", "/api/attempts/me/wallet/challenge");
				}).then(function (c) {
					return eth.request({method: "personal_sign", params: [c.message, account]});
				}).then(function (sig) {
					return api("POST", "/api/attempts/me/wallet", {connector: "injected", address: account, signature: sig});
				});
			}

			function pad(hex) { return ("0".repeat(64) + hex).slice(-64); }

			function pay(attempt) {
				var p = attempt.payment;
				if (p.provider !== "direct") {
					say("Complete the payment of " + p.amount + " USDC in the payment widget.");
					return attempt;
				}
				if (!window.ethereum) {
					throw new Error("a browser wallet is needed to send " + p.amount + " USDC to " + p.destination);
				}
				var data = "0xa9059cbb" + pad(p.destination.slice(2).toLowerCase()) + pad(BigInt(p.units).toString(16));
				return window.ethereum.request({method: "eth_sendTransaction", params: [{from: attempt.wallet.address, to: p.token, data: data}]})
					.then(function (hash) { return api("POST", "/api/attempts/me/payment/tx", {txHash: hash}); });
			}

			function poll() {
				api("GET", "/api/attempts/me").then(function (a) {
					if (a.state === "submitted") {
						say("Feedback submitted.");
						window.location.reload();
					} else if (a.state === "failed") {
						say("Failed: " + a.failure);
						retry.hidden = false;
					} else {
						setTimeout(poll, 3000);
					}
				}).catch(function (err) { say(err.message); });
			}

			function fail(err) {
				say(err.message);
				retry.hidden = !token;
			}

			form.addEventListener("submit", function (e) {
				e.preventDefault();
				var content = form.content.value;
				token = "";
				retry.hidden = true;
				say("Working...");
				api("POST", "/api/rounds/" + encodeURIComponent(roundId) + "/attempts").then(function (res) {
					token = res.token;
					return api("PUT", "/api/attempts/me/text", {content: content});
				}).then(function () {
					return api("POST", "/api/attempts/me/submit");
				}).then(function (a) {
					return a.state === "awaiting_payment" ? a : connect();
				}).then(function () {
					return api("POST", "/api/attempts/me/payment");
				}).then(pay).then(poll).catch(fail);
			});

			retry.addEventListener("click", function () {
				retry.hidden = true;
				say("Working...");
				api("POST", "/api/attempts/me/retry").then(function (a) {
					if (a.state !== "awaiting_payment") { return a; }
					return api("POST", "/api/attempts/me/payment").then(pay);
				}).then(poll).catch(fail);
			});
		})();
		</script>
		<h3>Previous Feedback</h3>
		{{if .Round.Feedback}}
		<ul>
			{{range .Round.Feedback}}<li><p>{{.Content}}</p><small>{{millis .CreatedAt}}</small></li>{{end}}
		</ul>
		{{else}}
		<p>No feedback yet.</p>
		{{end}}
	{{else}}
		<p>Round not found.</p>
	{{end}}
	</main>
</body>
</html>`))

type page struct {
	View        string
	Title       string
	Error       string
	Prompt      string
	ContentLink string
	Round       models.Round
	FeedbackURL string
	ShareURL    string
	Cost        string
}

// ViewHandler serves the HTML front end. Which view a GET renders is decided by
// routing.Resolve on the request path.
type ViewHandler struct {
	rounds *RoundHandler
	cost   string
	logger *zap.Logger
}

func NewViewHandler(rounds *RoundHandler, cost string, logger *zap.Logger) *ViewHandler {
	return &ViewHandler{rounds: rounds, cost: cost, logger: logger}
}

func (h *ViewHandler) render(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.Execute(w, p); err != nil {
		h.logger.Error("render page", zap.String("view", p.View), zap.Error(err))
	}
}

// --- GET /* ---

func (h *ViewHandler) Show(w http.ResponseWriter, r *http.Request) {
	route := routing.Resolve(r.URL.EscapedPath())
	if route.Kind == routing.Home {
		h.render(w, http.StatusOK, page{View: "home", Title: "Anonymous Feedback"})
		return
	}

	round, err := h.rounds.roundRepo.FindByID(r.Context(), route.RoundID)
	if err != nil {
		h.render(w, http.StatusNotFound, page{View: "notfound", Title: "Round not found"})
		return
	}
	h.render(w, http.StatusOK, page{View: "feedback", Title: "Leave Feedback", Round: round, Cost: h.cost})
}

// --- POST / ---

func (h *ViewHandler) CreateFromForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, http.StatusBadRequest, page{View: "home", Title: "Anonymous Feedback", Error: "invalid form"})
		return
	}
	req := CreateRoundRequest{
		Prompt:      strings.TrimSpace(r.PostForm.Get("prompt")),
		ContentLink: strings.TrimSpace(r.PostForm.Get("contentLink")),
	}

	round, err := h.rounds.create(r, req)
	if err != nil {
		status, msg := http.StatusInternalServerError, "could not create round"
		if isClientError(err) {
			status, msg = http.StatusBadRequest, "a prompt is required and the link must be a valid URL"
		} else {
			h.logger.Error("create round from form", zap.Error(err))
		}
		h.render(w, status, page{View: "home", Title: "Anonymous Feedback", Error: msg, Prompt: req.Prompt, ContentLink: req.ContentLink})
		return
	}

	resp := h.rounds.respond(r, round)
	h.render(w, http.StatusCreated, page{
		View:        "created",
		Title:       "Round created",
		Round:       round,
		FeedbackURL: resp.FeedbackURL,
		ShareURL:    resp.ShareURL,
	})
}

func isClientError(err error) bool {
	if errors.Is(err, repository.ErrValidation) {
		return true
	}
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
