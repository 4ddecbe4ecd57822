package settings

// Named accessors for every recognized option. The deployment options are
// consumed by FromDocument; the training options are exposed read-only for
// tooling that inspects a shared configuration file.

func (d *Document) NumParams() (int, error) { return d.Int("num_params") }

func (d *Document) NumSteps() (int, error) { return d.Int("num_steps") }

func (d *Document) UnrollLength() (int, error) { return d.Int("unroll_length") }

func (d *Document) HiddenSize() (int, error) { return d.Int("hidden_size") }

func (d *Document) NumLayers() (int, error) { return d.Int("num_layers") }

func (d *Document) Reuse() (bool, error) { return d.Bool("reuse") }

func (d *Document) Constraints() (bool, error) { return d.Bool("constraints") }

func (d *Document) OptDirection() (string, error) { return d.String("opt_direction") }

func (d *Document) ZMQ() (bool, error) { return d.Bool("zmq") }

func (d *Document) IPAddress() (string, error) { return d.String("ip_address") }

func (d *Document) Port() (int, error) { return d.Int("port") }

func (d *Document) SavePath() (string, error) { return d.String("save_path") }

func (d *Document) ReactionType() (string, error) { return d.String("reaction_type") }

func (d *Document) BatchSize() (int, error) { return d.Int("batch_size") }

func (d *Document) BatchNorm() (bool, error) { return d.Bool("batch_norm") }

func (d *Document) NumEpochs() (int, error) { return d.Int("num_epochs") }

func (d *Document) LogPeriod() (int, error) { return d.Int("log_period") }

func (d *Document) LogPath() (string, error) { return d.String("log_path") }

func (d *Document) EvaluationPeriod() (int, error) { return d.Int("evaluation_period") }

func (d *Document) EvaluationEpochs() (int, error) { return d.Int("evaluation_epochs") }

func (d *Document) LearningRate() (float64, error) { return d.Float("learning_rate") }

func (d *Document) LRDecay() (float64, error) { return d.Float("lr_decay") }

func (d *Document) Optimizer() (string, error) { return d.String("optimizer") }

func (d *Document) LossType() (string, error) { return d.String("loss_type") }

func (d *Document) DiscountFactor() (float64, error) { return d.Float("discount_factor") }

func (d *Document) NormCov() (float64, error) { return d.Float("norm_cov") }

func (d *Document) Policy() (string, error) { return d.String("policy") }

func (d *Document) TrainableInit() (bool, error) { return d.Bool("trainable_init") }
