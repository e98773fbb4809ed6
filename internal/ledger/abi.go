package ledger

// crucibleABI is the subset of the Crucible contract interface the arbiter uses.
const crucibleABI = `[
  {"type":"function","name":"startGame","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"startRound","inputs":[
    {"name":"_commitWindow","type":"uint256"},
    {"name":"_revealWindow","type":"uint256"}
  ],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"resolveRound","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"advanceRound","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"endGame","inputs":[
    {"name":"_winners","type":"address[]"},
    {"name":"_shares","type":"uint256[]"}
  ],"outputs":[],"stateMutability":"nonpayable"},
  {"type":"function","name":"newGame","inputs":[],"outputs":[],"stateMutability":"nonpayable"},

  {"type":"function","name":"phase","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"},
  {"type":"function","name":"currentRound","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"revealDeadline","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"prizePool","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"getPlayerCount","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"getAliveCount","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"getAlivePlayers","inputs":[],"outputs":[{"name":"","type":"address[]"}],"stateMutability":"view"},
  {"type":"function","name":"getActiveRules","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[
    {"name":"ruleType","type":"uint8"},
    {"name":"proposer","type":"address"},
    {"name":"activatedAtRound","type":"uint256"}
  ]}],"stateMutability":"view"},
  {"type":"function","name":"getPlayerInfo","inputs":[{"name":"_player","type":"address"}],"outputs":[
    {"name":"points","type":"int256"},
    {"name":"alive","type":"bool"},
    {"name":"registered","type":"bool"}
  ],"stateMutability":"view"},

  {"type":"event","name":"PlayerRegistered","anonymous":false,"inputs":[
    {"name":"player","type":"address","indexed":true}
  ]},
  {"type":"event","name":"CombatResolved","anonymous":false,"inputs":[
    {"name":"round","type":"uint256","indexed":true},
    {"name":"player1","type":"address","indexed":true},
    {"name":"player2","type":"address","indexed":true},
    {"name":"p1Action","type":"uint8","indexed":false},
    {"name":"p2Action","type":"uint8","indexed":false},
    {"name":"winner","type":"address","indexed":false},
    {"name":"pointsTransferred","type":"int256","indexed":false}
  ]}
]`
